package chat

import (
	"errors"
	"fmt"
)

// Failure kinds returned by the chat API. Wrap with context, match with errors.Is.
var (
	ErrValidation      = errors.New("invalid request")
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionGone is a session that existed and was deleted by an admin.
	// Clients treat it like ErrSessionNotFound and start over.
	ErrSessionGone  = errors.New("session gone")
	ErrAccessDenied = errors.New("access denied")
	ErrRateLimited  = errors.New("rate limited")
	ErrForbidden    = errors.New("forbidden")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
