// Package ratelimit implements fixed-window counters over the ttlcache.
package ratelimit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/metrics"
	"github.com/suPer8Hu/quiz-assist/internal/ttlcache"
)

// Bucket families. The label is used for metrics, the key for counters.
const (
	BucketStart = "start"
	BucketSend  = "send"
	BucketPoll  = "poll"
)

type Limiter struct {
	cache ttlcache.Cache
}

func New(cache ttlcache.Cache) *Limiter {
	return &Limiter{cache: cache}
}

// Allow counts one hit against bucket and reports whether it is within limit
// for the current window. The window starts at the first hit and is not
// extended by later ones. A cache error fails open.
func (l *Limiter) Allow(ctx context.Context, family, bucket string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return true
	}
	n, err := l.cache.Incr(ctx, key(bucket), window)
	if err != nil {
		logger.WithFields(map[string]any{"bucket": bucket, "err": err}).Warn("rate limiter cache error, allowing")
		return true
	}
	if n > int64(limit) {
		metrics.RateLimitedTotal.WithLabelValues(family).Inc()
		return false
	}
	return true
}

func StartKey(ip string) string { return "start|ip|" + ip }

func SendKey(sessionID uint64) string { return "send|sess|" + strconv.FormatUint(sessionID, 10) }

func PollKey(sessionID uint64) string { return "poll|sess|" + strconv.FormatUint(sessionID, 10) }

// key hashes bucket names so arbitrary input (IPs, ids) yields a bounded key.
func key(bucket string) string {
	sum := sha1.Sum([]byte(bucket))
	return "rl:" + hex.EncodeToString(sum[:])
}
