// Package ttlcache is the expiring side-store used for rate-limit counters,
// guest bindings and tombstones. It is kept apart from the relational store:
// nothing in it is durable.
package ttlcache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("ttlcache: miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr adds one to the counter at key. ttl applies only when the
	// counter is created, so the window does not slide on later hits.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}
