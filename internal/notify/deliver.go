package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/email"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"gorm.io/gorm"
)

// Outcome tells the consumer what to do with the delivery.
type Outcome int

const (
	// Sent: ack.
	Sent Outcome = iota
	// Retry: the row is queued again; schedule a redelivery and ack.
	Retry
	// Failed: the row is final; dead-letter the delivery.
	Failed
	// Skipped: nothing to do (unknown id, already final, or claimed elsewhere).
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result is what Deliver did. Attempts counts the current try.
type Result struct {
	Outcome  Outcome
	Attempts int
}

// SendFunc delivers one rendered email to a single recipient.
type SendFunc func(to, subject, body string) error

// SMTPSender adapts email.SendText.
func SMTPSender(cfg email.SMTPConfig) SendFunc {
	return func(to, subject, body string) error {
		return email.SendText(cfg, to, subject, body)
	}
}

type Deliverer struct {
	repo        *chat.Repo
	send        SendFunc
	to          string
	siteURL     string
	loc         *time.Location
	maxAttempts int
}

func NewDeliverer(repo *chat.Repo, send SendFunc, to, siteURL string, maxAttempts int) *Deliverer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Deliverer{
		repo:        repo,
		send:        send,
		to:          to,
		siteURL:     siteURL,
		loc:         time.Local,
		maxAttempts: maxAttempts,
	}
}

// Deliver claims the outbox row and emails the admin. The returned error is
// informational; the outcome already reflects it.
func (d *Deliverer) Deliver(ctx context.Context, id string) (Result, error) {
	log := logger.WithField("notification_id", id)

	claimed, err := d.repo.ClaimNotification(ctx, id)
	if err != nil {
		return Result{Outcome: Retry}, err
	}
	if !claimed {
		return Result{Outcome: Skipped}, nil
	}
	n, err := d.repo.GetNotification(ctx, id)
	if err != nil {
		d.requeue(ctx, id, err.Error())
		return Result{Outcome: Retry}, err
	}
	res := Result{Attempts: n.Attempts}

	sess, err := d.repo.GetSession(ctx, n.SessionID)
	if err != nil {
		res.Outcome, err = d.giveUpOnMissing(ctx, id, "session", err)
		return res, err
	}
	msg, err := d.repo.GetMessage(ctx, n.MessageID)
	if err != nil {
		res.Outcome, err = d.giveUpOnMissing(ctx, id, "message", err)
		return res, err
	}

	mail := Render(sess, msg, d.siteURL, d.loc)
	if err := d.send(d.to, mail.Subject, mail.Body); err != nil {
		if errors.Is(err, email.ErrNotConfigured) || n.Attempts >= d.maxAttempts {
			d.fail(ctx, id, err.Error())
			log.WithError(err).WithField("attempts", n.Attempts).Error("notification failed")
			res.Outcome = Failed
			return res, err
		}
		res.Outcome = Retry
		d.requeue(ctx, id, err.Error())
		log.WithError(err).WithField("attempts", n.Attempts).Warn("notification send failed, will retry")
		return res, err
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := d.repo.MarkNotificationSent(wctx, id); err != nil {
		// mail went out; a redelivery would duplicate it
		log.WithError(err).Error("mark notification sent")
	}
	log.WithFields(logrus.Fields{"session_id": sess.ID, "attempts": n.Attempts}).Info("notification sent")
	res.Outcome = Sent
	return res, nil
}

func (d *Deliverer) giveUpOnMissing(ctx context.Context, id, what string, err error) (Outcome, error) {
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		d.requeue(ctx, id, err.Error())
		return Retry, err
	}
	d.fail(ctx, id, what+" deleted")
	return Failed, nil
}

// writeContext outlives the delivery context so a shutdown mid-delivery
// still settles the claimed row.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

// requeue and fail log write errors; a row they leave in sending is
// returned to the queue by the stale sweep.
func (d *Deliverer) requeue(ctx context.Context, id, reason string) {
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := d.repo.RequeueNotification(wctx, id, reason); err != nil {
		logger.WithField("notification_id", id).WithError(err).Error("requeue notification")
	}
}

func (d *Deliverer) fail(ctx context.Context, id, reason string) {
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := d.repo.MarkNotificationFailed(wctx, id, reason); err != nil {
		logger.WithField("notification_id", id).WithError(err).Error("mark notification failed")
	}
}

// RetryDelay backs off exponentially from 30s, capped at 10 minutes.
func RetryDelay(attempts int) time.Duration {
	const (
		base     = 30 * time.Second
		maxDelay = 10 * time.Minute
	)
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
