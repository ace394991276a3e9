// Package csrf implements the double-submit anti-CSRF token authority.
// One token lives per session; a successful validation consumes it and
// issues a replacement.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

var (
	// ErrMissing is returned when no token is stored for the session or
	// the client presented none.
	ErrMissing = errors.New("csrf: token missing")
	// ErrInvalid is returned when the presented token does not match.
	ErrInvalid = errors.New("csrf: token invalid")
)

const (
	keyPrefix  = "csrf:"
	tokenBytes = 32
	defaultTTL = 24 * time.Hour
)

// Authority issues and validates per-session CSRF tokens.
type Authority struct {
	store *kv.Store
	ttl   time.Duration
}

// NewAuthority creates a CSRF Authority. ttl of zero takes the 24h default.
func NewAuthority(store *kv.Store, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Authority{store: store, ttl: ttl}
}

func key(sessionID string) string { return keyPrefix + sessionID }

// Generate mints a fresh random token for the session, replacing any
// previous one.
func (a *Authority) Generate(ctx context.Context, sessionID string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("csrf: entropy source: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := a.store.Set(ctx, key(sessionID), []byte(token), a.ttl); err != nil {
		return "", fmt.Errorf("csrf: persist token: %w", err)
	}
	return token, nil
}

// Validate compares the presented token against the stored one in
// constant time. On success the token is rotated and the replacement
// returned; on mismatch the stored token stays live.
func (a *Authority) Validate(ctx context.Context, sessionID, presented string) (string, error) {
	if presented == "" {
		return "", ErrMissing
	}
	stored, err := a.store.Get(ctx, key(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", ErrMissing
		}
		return "", err
	}
	if subtle.ConstantTimeCompare(stored, []byte(presented)) != 1 {
		return "", ErrInvalid
	}
	return a.Generate(ctx, sessionID)
}

// Clear removes the session's token. Called on logout.
func (a *Authority) Clear(ctx context.Context, sessionID string) error {
	return a.store.Del(ctx, key(sessionID))
}
