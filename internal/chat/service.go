package chat

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/metrics"
	"github.com/suPer8Hu/quiz-assist/internal/ratelimit"
	"gorm.io/gorm"
)

const (
	maxGuestName  = 191
	maxGuestPhone = 64
)

// Notifier is told about every message a guest sends. It must not block the
// request for long and never fails the send.
type Notifier interface {
	GuestMessage(ctx context.Context, s *Session, m *Message)
}

// Options is the read-only slice of config the chat service needs.
type Options struct {
	GuestPolicy        string
	GuestAuthMode      string
	RequirePublicToken bool
	StartRate          config.RateRule
	SendRate           config.RateRule
	PollRate           config.RateRule
	ListMax            int
	MaxRunes           int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		GuestPolicy:        cfg.GuestSessionPolicy,
		GuestAuthMode:      cfg.GuestAuthMode,
		RequirePublicToken: cfg.RequirePublicToken,
		StartRate:          cfg.StartRate,
		SendRate:           cfg.SendRate,
		PollRate:           cfg.PollRate,
		ListMax:            cfg.MessageListMax,
		MaxRunes:           cfg.MessageMaxRunes,
	}
}

type Service struct {
	repo     *Repo
	binder   *identity.Binder
	guard    *Guard
	limiter  *ratelimit.Limiter
	notifier Notifier
	opts     Options
}

// NewService wires the chat core. notifier may be nil.
func NewService(repo *Repo, binder *identity.Binder, limiter *ratelimit.Limiter, notifier Notifier, opts Options) *Service {
	if opts.ListMax <= 0 {
		opts.ListMax = 200
	}
	if opts.MaxRunes <= 0 {
		opts.MaxRunes = 4000
	}
	return &Service{
		repo:     repo,
		binder:   binder,
		guard:    NewGuard(binder, opts.GuestAuthMode),
		limiter:  limiter,
		notifier: notifier,
		opts:     opts,
	}
}

func (s *Service) Guard() *Guard { return s.guard }

// StartSession returns the caller's session, creating one when needed.
// Users always get their latest session back. Guests are matched by email
// under reuse_by_email and always get a fresh session under always_new.
func (s *Service) StartSession(ctx context.Context, caller identity.Caller, guest GuestContact) (*StartResult, error) {
	if !caller.IsAdmin() && !s.limiter.Allow(ctx, ratelimit.BucketStart, ratelimit.StartKey(caller.IP),
		s.opts.StartRate.Limit, s.opts.StartRate.Window) {
		return nil, ErrRateLimited
	}

	if caller.Authenticated() {
		return s.startUserSession(ctx, caller.UserID)
	}
	return s.startGuestSession(ctx, caller, guest)
}

func (s *Service) startUserSession(ctx context.Context, userID uint64) (*StartResult, error) {
	sess, err := s.repo.LatestSessionByUser(ctx, userID)
	if err == nil {
		metrics.ChatSessionsStartedTotal.WithLabelValues(OwnerUser, "true").Inc()
		return &StartResult{SessionID: sess.ID, Reused: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sess = &Session{OwnerKind: OwnerUser, UserID: userID}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	metrics.ChatSessionsStartedTotal.WithLabelValues(OwnerUser, "false").Inc()
	return &StartResult{SessionID: sess.ID}, nil
}

func (s *Service) startGuestSession(ctx context.Context, caller identity.Caller, guest GuestContact) (*StartResult, error) {
	if s.opts.RequirePublicToken {
		ok, err := s.binder.VerifyPublicToken(ctx, caller.PublicToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalid("missing or expired public token")
		}
	}

	guest, err := validateGuest(guest)
	if err != nil {
		return nil, err
	}

	var sess *Session
	res := &StartResult{}
	if s.opts.GuestPolicy != config.GuestPolicyAlwaysNew {
		existing, err := s.repo.LatestGuestSessionByEmail(ctx, guest.Email)
		switch {
		case err == nil:
			tok, ok, err := s.claimGuestSession(ctx, caller, existing.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				// held by another browser; never hand its thread to this caller
				logger.WithField("session_id", existing.ID).Info("guest session bound elsewhere, starting a new one")
				break
			}
			sess = existing
			res.Reused, res.SessionToken = true, tok
			if existing.GuestName != guest.Name || existing.GuestPhone != guest.Phone {
				if err := s.repo.UpdateGuestContact(ctx, existing.ID, guest.Name, guest.Phone); err != nil {
					return nil, err
				}
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	if sess == nil {
		sess = &Session{
			OwnerKind:  OwnerGuest,
			GuestName:  guest.Name,
			GuestEmail: guest.Email,
			GuestPhone: guest.Phone,
		}
		if err := s.repo.CreateSession(ctx, sess); err != nil {
			return nil, err
		}
		if s.opts.GuestAuthMode != config.GuestAuthFingerprint {
			tok, err := s.binder.IssueSessionToken(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			res.SessionToken = tok
		}
		if s.opts.GuestAuthMode != config.GuestAuthToken {
			if err := s.binder.BindFingerprint(ctx, sess.ID, caller.Fingerprint()); err != nil {
				return nil, err
			}
		}
	}
	res.SessionID = sess.ID

	metrics.ChatSessionsStartedTotal.WithLabelValues(OwnerGuest, strconv.FormatBool(res.Reused)).Inc()
	return res, nil
}

// claimGuestSession decides whether caller may take over an existing guest
// session found by email. Live bindings are never replaced: the caller must
// present them, or the session must have none. tok is the session token the
// caller should keep using, empty in fingerprint mode.
func (s *Service) claimGuestSession(ctx context.Context, caller identity.Caller, sessionID uint64) (tok string, ok bool, err error) {
	if s.opts.GuestAuthMode == config.GuestAuthFingerprint {
		ok, err = s.binder.CheckFingerprint(ctx, sessionID, caller.Fingerprint())
		return "", ok, err
	}

	if caller.SessionToken != "" {
		valid, err := s.binder.VerifySessionToken(ctx, sessionID, caller.SessionToken)
		if err != nil {
			return "", false, err
		}
		if valid {
			return caller.SessionToken, true, nil
		}
	}

	live, err := s.binder.HasSessionToken(ctx, sessionID)
	if err != nil || live {
		return "", false, err
	}
	if s.opts.GuestAuthMode == config.GuestAuthTokenOrFingerprint {
		if ok, err := s.binder.CheckFingerprint(ctx, sessionID, caller.Fingerprint()); err != nil || !ok {
			return "", false, err
		}
	}
	return s.binder.ClaimSessionToken(ctx, sessionID)
}

func validateGuest(g GuestContact) (GuestContact, error) {
	g = g.normalized()
	if g.Name == "" {
		return g, invalid("guest_name is required")
	}
	if utf8.RuneCountInString(g.Name) > maxGuestName {
		return g, invalid("guest_name is too long")
	}
	if g.Email == "" {
		return g, invalid("guest_email is required")
	}
	addr, err := mail.ParseAddress(g.Email)
	if err != nil || addr.Address != g.Email || len(g.Email) > 191 {
		return g, invalid("guest_email is not a valid address")
	}
	if g.Phone == "" {
		return g, invalid("guest_phone is required")
	}
	if utf8.RuneCountInString(g.Phone) > maxGuestPhone {
		return g, invalid("guest_phone is too long")
	}
	return g, nil
}

func (s *Service) validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", invalid("message is required")
	}
	if utf8.RuneCountInString(body) > s.opts.MaxRunes {
		return "", invalid("message exceeds %d characters", s.opts.MaxRunes)
	}
	return body, nil
}

// loadSession maps a missing row to ErrSessionGone when a tombstone says it
// was deleted, ErrSessionNotFound otherwise.
func (s *Service) loadSession(ctx context.Context, id uint64) (*Session, error) {
	if id == 0 {
		return nil, invalid("session_id is required")
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if gone, gerr := s.binder.IsGone(ctx, id); gerr == nil && gone {
		return nil, ErrSessionGone
	}
	return nil, ErrSessionNotFound
}

// loadSessionForAdmin ignores tombstones: admins see NotFound for deleted
// sessions.
func (s *Service) loadSessionForAdmin(ctx context.Context, id uint64) (*Session, error) {
	if id == 0 {
		return nil, invalid("session_id is required")
	}
	sess, err := s.repo.GetSession(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// appendMessage inserts after loadSession already saw the row. A delete that
// lands in between surfaces here as an insert failure on the foreign key.
func (s *Service) appendMessage(ctx context.Context, sessionID uint64, sender, body string) (*Message, error) {
	m := &Message{
		SessionID: sessionID,
		Sender:    sender,
		Body:      body,
		IsRead:    sender == SenderAdmin,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		load := s.loadSession
		if sender == SenderAdmin {
			load = s.loadSessionForAdmin
		}
		if _, lerr := load(ctx, sessionID); errors.Is(lerr, ErrSessionGone) || errors.Is(lerr, ErrSessionNotFound) {
			return nil, lerr
		}
		return nil, err
	}
	metrics.ChatMessagesTotal.WithLabelValues(sender).Inc()
	return m, nil
}

// SendMessage appends a visitor message after the guard and the per-session
// send limit allow it.
func (s *Service) SendMessage(ctx context.Context, caller identity.Caller, sessionID uint64, body string) (*Message, error) {
	body, err := s.validateBody(body)
	if err != nil {
		return nil, err
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanAccess(ctx, caller, sess); err != nil {
		return nil, err
	}
	if !s.limiter.Allow(ctx, ratelimit.BucketSend, ratelimit.SendKey(sess.ID),
		s.opts.SendRate.Limit, s.opts.SendRate.Window) {
		return nil, ErrRateLimited
	}

	m, err := s.appendMessage(ctx, sess.ID, SenderUser, body)
	if err != nil {
		return nil, err
	}
	if sess.IsGuest() && s.notifier != nil {
		s.notifier.GuestMessage(ctx, sess, m)
	}
	return m, nil
}

// ListMessages returns the newest limit messages oldest first. An exhausted
// poll budget yields an empty list, not an error.
func (s *Service) ListMessages(ctx context.Context, caller identity.Caller, sessionID uint64, limit int) ([]Message, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanAccess(ctx, caller, sess); err != nil {
		return nil, err
	}
	if !s.limiter.Allow(ctx, ratelimit.BucketPoll, ratelimit.PollKey(sess.ID),
		s.opts.PollRate.Limit, s.opts.PollRate.Window) {
		return []Message{}, nil
	}
	return s.repo.ListRecentMessages(ctx, sess.ID, s.clampLimit(limit))
}

func (s *Service) clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > s.opts.ListMax {
		return s.opts.ListMax
	}
	return limit
}

// IssuePublicToken hands out the anti-abuse token guests present on start.
func (s *Service) IssuePublicToken(ctx context.Context) (string, error) {
	return s.binder.IssuePublicToken(ctx)
}

func requireAdmin(caller identity.Caller) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) AdminListSessions(ctx context.Context, caller identity.Caller) ([]SessionSummary, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.repo.ListSessionSummaries(ctx)
}

// AdminGetSessionMeta marks the visitor messages read and returns the
// session's inbox row.
func (s *Service) AdminGetSessionMeta(ctx context.Context, caller identity.Caller, sessionID uint64) (*SessionSummary, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if sessionID == 0 {
		return nil, invalid("session_id is required")
	}
	if _, err := s.repo.MarkAllRead(ctx, sessionID); err != nil {
		return nil, err
	}
	meta, err := s.repo.GetSessionMeta(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return meta, err
}

func (s *Service) AdminListMessages(ctx context.Context, caller identity.Caller, sessionID uint64, limit int) ([]Message, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	sess, err := s.loadSessionForAdmin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.MarkAllRead(ctx, sess.ID); err != nil {
		return nil, err
	}
	return s.repo.ListRecentMessages(ctx, sess.ID, s.clampLimit(limit))
}

// AdminSendMessage bypasses the guard and the limiter. Admin replies are
// stored already read.
func (s *Service) AdminSendMessage(ctx context.Context, caller identity.Caller, sessionID uint64, body string) (*Message, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	body, err := s.validateBody(body)
	if err != nil {
		return nil, err
	}
	sess, err := s.loadSessionForAdmin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.appendMessage(ctx, sess.ID, SenderAdmin, body)
}

// AdminDeleteSession removes the session with its messages and drops the
// guest bindings. Deleting an unknown id succeeds.
func (s *Service) AdminDeleteSession(ctx context.Context, caller identity.Caller, sessionID uint64) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if sessionID == 0 {
		return invalid("session_id is required")
	}
	deleted, err := s.repo.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	if err := s.binder.Forget(ctx, sessionID); err != nil {
		// the rows are gone; clients just see NotFound instead of Gone
		logger.WithFields(logrus.Fields{"session_id": sessionID, "err": err.Error()}).
			Warn("could not tombstone deleted session")
	}
	logger.WithFields(logrus.Fields{"session_id": sessionID, "admin_id": caller.UserID}).Info("chat session deleted")
	return nil
}
