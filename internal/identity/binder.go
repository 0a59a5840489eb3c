package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/quiz-assist/internal/ttlcache"
)

// Request headers carrying guest credentials.
const (
	HeaderSessionToken = "X-QA-Token"
	HeaderFingerprint  = "X-QA-Fingerprint"
	HeaderPublicToken  = "X-QA-Public"
)

const maxUserAgent = 512

type TTLs struct {
	SessionToken time.Duration
	Fingerprint  time.Duration
	PublicToken  time.Duration
	Tombstone    time.Duration
}

// Binder keeps guest bindings in the expiring side-store. None of this is
// durable: a flushed cache only forces guests to start a new chat.
type Binder struct {
	cache ttlcache.Cache
	ttl   TTLs
}

func NewBinder(cache ttlcache.Cache, ttl TTLs) *Binder {
	return &Binder{cache: cache, ttl: ttl}
}

// FingerprintOf hashes the low-entropy browser signal. The client hint, when
// sent, is mixed in so two browsers with the same UA still differ.
func FingerprintOf(userAgent, hint string) string {
	ua := userAgent
	if len(ua) > maxUserAgent {
		ua = ua[:maxUserAgent]
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(ua) + "|" + strings.TrimSpace(hint)))
	return hex.EncodeToString(sum[:])
}

func (c Caller) Fingerprint() string { return FingerprintOf(c.UserAgent, c.FingerprintHint) }

// BindFingerprint overwrites the binding for sessionID.
func (b *Binder) BindFingerprint(ctx context.Context, sessionID uint64, fp string) error {
	return b.cache.Set(ctx, fpKey(sessionID), fp, b.ttl.Fingerprint)
}

// CheckFingerprint binds on first sight and afterwards allows only an exact match.
func (b *Binder) CheckFingerprint(ctx context.Context, sessionID uint64, fp string) (bool, error) {
	if fp == "" {
		return false, nil
	}
	created, err := b.cache.SetNX(ctx, fpKey(sessionID), fp, b.ttl.Fingerprint)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}
	bound, err := b.cache.Get(ctx, fpKey(sessionID))
	if errors.Is(err, ttlcache.ErrMiss) {
		// expired between SetNX and Get; retry once as first sight
		return b.cache.SetNX(ctx, fpKey(sessionID), fp, b.ttl.Fingerprint)
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(bound), []byte(fp)) == 1, nil
}

// IssueSessionToken binds a fresh random token to sessionID, replacing any previous one.
func (b *Binder) IssueSessionToken(ctx context.Context, sessionID uint64) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", err
	}
	if err := b.cache.Set(ctx, tokenKey(sessionID), tok, b.ttl.SessionToken); err != nil {
		return "", err
	}
	return tok, nil
}

// ClaimSessionToken binds a fresh token only when none is live. claimed is
// false when another token already holds the session.
func (b *Binder) ClaimSessionToken(ctx context.Context, sessionID uint64) (tok string, claimed bool, err error) {
	tok, err = randomToken()
	if err != nil {
		return "", false, err
	}
	claimed, err = b.cache.SetNX(ctx, tokenKey(sessionID), tok, b.ttl.SessionToken)
	if err != nil || !claimed {
		return "", false, err
	}
	return tok, true, nil
}

// HasSessionToken reports whether a token is currently bound to sessionID.
func (b *Binder) HasSessionToken(ctx context.Context, sessionID uint64) (bool, error) {
	_, err := b.cache.Get(ctx, tokenKey(sessionID))
	if errors.Is(err, ttlcache.ErrMiss) {
		return false, nil
	}
	return err == nil, err
}

func (b *Binder) VerifySessionToken(ctx context.Context, sessionID uint64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	want, err := b.cache.Get(ctx, tokenKey(sessionID))
	if errors.Is(err, ttlcache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1, nil
}

// IssuePublicToken returns a per-browser token guests present when starting a chat.
func (b *Binder) IssuePublicToken(ctx context.Context) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", err
	}
	if err := b.cache.Set(ctx, "pub:"+tok, "1", b.ttl.PublicToken); err != nil {
		return "", err
	}
	return tok, nil
}

func (b *Binder) VerifyPublicToken(ctx context.Context, token string) (bool, error) {
	if token == "" || len(token) > 64 {
		return false, nil
	}
	_, err := b.cache.Get(ctx, "pub:"+token)
	if errors.Is(err, ttlcache.ErrMiss) {
		return false, nil
	}
	return err == nil, err
}

// Forget drops every binding of a deleted session and leaves a tombstone.
func (b *Binder) Forget(ctx context.Context, sessionID uint64) error {
	if err := b.cache.Delete(ctx, fpKey(sessionID), tokenKey(sessionID)); err != nil {
		return err
	}
	return b.cache.Set(ctx, goneKey(sessionID), "1", b.ttl.Tombstone)
}

// IsGone reports whether sessionID was deleted within the tombstone TTL.
func (b *Binder) IsGone(ctx context.Context, sessionID uint64) (bool, error) {
	_, err := b.cache.Get(ctx, goneKey(sessionID))
	if errors.Is(err, ttlcache.ErrMiss) {
		return false, nil
	}
	return err == nil, err
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func fpKey(id uint64) string    { return "fp:" + strconv.FormatUint(id, 10) }
func tokenKey(id uint64) string { return "sess:" + strconv.FormatUint(id, 10) }
func goneKey(id uint64) string  { return "gone:" + strconv.FormatUint(id, 10) }
