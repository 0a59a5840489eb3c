package chat

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/metrics"
)

// Denial reasons, also used as metric labels.
const (
	DenyOwnerMismatch  = "owner_mismatch"
	DenyNotOwner       = "guest_on_user_session"
	DenyAuthenticated  = "authenticated_on_guest_session"
	DenyTokenMissing   = "token_missing"
	DenyTokenMismatch  = "token_mismatch"
	DenyFingerprint    = "fingerprint_mismatch"
	DenyBindingBackend = "binding_unavailable"
)

// Guard decides whether a caller may touch a session's messages.
type Guard struct {
	binder *identity.Binder
	mode   string
}

func NewGuard(binder *identity.Binder, mode string) *Guard {
	switch mode {
	case config.GuestAuthToken, config.GuestAuthFingerprint, config.GuestAuthTokenOrFingerprint:
	default:
		mode = config.GuestAuthToken
	}
	return &Guard{binder: binder, mode: mode}
}

// CanAccess returns nil to allow, or an error wrapping ErrAccessDenied.
// Cache failures deny.
func (g *Guard) CanAccess(ctx context.Context, caller identity.Caller, s *Session) error {
	if caller.IsAdmin() {
		return nil
	}

	if !s.IsGuest() {
		if !caller.Authenticated() {
			return deny(DenyNotOwner)
		}
		if caller.UserID != s.UserID {
			return deny(DenyOwnerMismatch)
		}
		return nil
	}

	// a logged-in identity never reads a guest thread
	if caller.Authenticated() {
		return deny(DenyAuthenticated)
	}

	switch g.mode {
	case config.GuestAuthFingerprint:
		return g.checkFingerprint(ctx, caller, s.ID)
	case config.GuestAuthTokenOrFingerprint:
		if caller.SessionToken != "" {
			return g.checkToken(ctx, caller, s.ID)
		}
		return g.checkFingerprint(ctx, caller, s.ID)
	default:
		return g.checkToken(ctx, caller, s.ID)
	}
}

func (g *Guard) checkToken(ctx context.Context, caller identity.Caller, sessionID uint64) error {
	if caller.SessionToken == "" {
		return deny(DenyTokenMissing)
	}
	ok, err := g.binder.VerifySessionToken(ctx, sessionID, caller.SessionToken)
	if err != nil {
		logger.WithFields(logrus.Fields{"session_id": sessionID, "err": err.Error()}).
			Warn("session token check failed")
		return deny(DenyBindingBackend)
	}
	if !ok {
		return deny(DenyTokenMismatch)
	}
	return nil
}

func (g *Guard) checkFingerprint(ctx context.Context, caller identity.Caller, sessionID uint64) error {
	ok, err := g.binder.CheckFingerprint(ctx, sessionID, caller.Fingerprint())
	if err != nil {
		logger.WithFields(logrus.Fields{"session_id": sessionID, "err": err.Error()}).
			Warn("fingerprint check failed")
		return deny(DenyBindingBackend)
	}
	if !ok {
		return deny(DenyFingerprint)
	}
	return nil
}

func deny(reason string) error {
	metrics.AccessDeniedTotal.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %s", ErrAccessDenied, reason)
}
