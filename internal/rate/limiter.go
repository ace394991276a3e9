// Package rate enforces fixed-window request budgets for the
// security-sensitive entry points. Counters are Redis INCR with a
// conditional EXPIRE on the first hit; windows are eventually
// consistent, not transactional.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

// ErrRateLimited is returned when a scope's budget is exhausted.
var ErrRateLimited = errors.New("rate: limited")

// Scope is one named budget.
type Scope struct {
	Name   string
	Limit  int
	Window time.Duration
}

// The service's standing budgets.
var (
	ScopeLogin         = Scope{Name: "login", Limit: 5, Window: time.Minute}
	ScopePasswordReset = Scope{Name: "pwreset", Limit: 3, Window: 5 * time.Minute}
	ScopeResend        = Scope{Name: "resend", Limit: 3, Window: 5 * time.Minute}
	ScopeRequest       = Scope{Name: "req", Limit: 120, Window: time.Minute}
)

// Limiter applies per-scope fixed-window counters keyed by caller
// identifier.
type Limiter struct {
	store *kv.Store
}

// New creates a Limiter backed by the given store.
func New(store *kv.Store) *Limiter {
	return &Limiter{store: store}
}

func counterKey(scope Scope, id string) string {
	return "rl:" + scope.Name + ":" + id
}

// Allow consumes one unit from the scope's window for the identifier.
// It fails with ErrRateLimited once the budget is exhausted; the window
// resets when the counter key expires.
func (l *Limiter) Allow(ctx context.Context, scope Scope, id string) error {
	count, err := l.store.IncrWithTTL(ctx, counterKey(scope, id), scope.Window)
	if err != nil {
		return fmt.Errorf("rate: counter: %w", err)
	}
	if count > int64(scope.Limit) {
		return fmt.Errorf("%w: %s", ErrRateLimited, scope.Name)
	}
	return nil
}

// AllowPair consumes from the same scope under two identifiers, such as
// a username and the caller IP. Either budget running out blocks the
// request.
func (l *Limiter) AllowPair(ctx context.Context, scope Scope, a, b string) error {
	if a != "" {
		if err := l.Allow(ctx, scope, a); err != nil {
			return err
		}
	}
	if b != "" {
		return l.Allow(ctx, scope, b)
	}
	return nil
}

// Reset clears the identifier's counter in the scope. Called after a
// successful login so earlier failures stop counting.
func (l *Limiter) Reset(ctx context.Context, scope Scope, id string) error {
	return l.store.Del(ctx, counterKey(scope, id))
}
