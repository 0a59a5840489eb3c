// Package notify emails the admin when a guest writes in the chat.
package notify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/ttlcache"
)

const publishTimeout = 5 * time.Second

// Publisher hands an outbox id to whoever delivers it.
type Publisher interface {
	PublishNotification(ctx context.Context, id string) error
}

// LogPublisher is used when no broker is configured. Rows stay queued.
type LogPublisher struct{}

func (LogPublisher) PublishNotification(_ context.Context, id string) error {
	logger.WithField("notification_id", id).Info("no broker configured, notification left queued")
	return nil
}

type Notifier struct {
	repo   *chat.Repo
	cache  ttlcache.Cache
	pub    Publisher
	window time.Duration
}

// New builds a Notifier. window is how long an identical guest message is
// considered a retry and skipped.
func New(repo *chat.Repo, cache ttlcache.Cache, pub Publisher, window time.Duration) *Notifier {
	if pub == nil {
		pub = LogPublisher{}
	}
	return &Notifier{repo: repo, cache: cache, pub: pub, window: window}
}

// GuestMessage records an outbox row and publishes it. Errors are logged,
// the chat send has already succeeded.
func (n *Notifier) GuestMessage(ctx context.Context, s *chat.Session, m *chat.Message) {
	log := logger.WithFields(logrus.Fields{"session_id": s.ID, "message_id": m.ID})

	if n.window > 0 {
		fresh, err := n.cache.SetNX(ctx, dedupeKey(s.ID, m.Body), "1", n.window)
		if err != nil {
			log.WithError(err).Warn("notify dedupe check failed, sending anyway")
		} else if !fresh {
			log.Debug("duplicate guest message, skipping notification")
			return
		}
	}

	id, err := common.NewULID()
	if err != nil {
		log.WithError(err).Error("notification id")
		return
	}
	row := &chat.Notification{
		ID:        id,
		SessionID: s.ID,
		MessageID: m.ID,
		Status:    chat.NotificationQueued,
	}
	if err := n.repo.CreateNotification(ctx, row); err != nil {
		log.WithError(err).Error("create notification")
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.pub.PublishNotification(pctx, id); err != nil {
		log.WithError(err).WithField("notification_id", id).Warn("publish notification failed, left queued")
	}
}

func dedupeKey(sessionID uint64, body string) string {
	sum := md5.Sum([]byte("qa_guest_msg|" + strconv.FormatUint(sessionID, 10) + "|" + body))
	return "notify:" + hex.EncodeToString(sum[:])
}
