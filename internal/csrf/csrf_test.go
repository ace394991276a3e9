package csrf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

func newTestAuthority(t *testing.T, ttl time.Duration) (*Authority, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewAuthority(kv.New(rdb), ttl), mr
}

func TestValidateRotatesOnSuccess(t *testing.T) {
	a, _ := newTestAuthority(t, 0)
	ctx := context.Background()

	token, err := a.Generate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	next, err := a.Validate(ctx, "sess-1", token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if next == token {
		t.Fatal("token not rotated on successful validation")
	}

	// the consumed token no longer validates
	if _, err := a.Validate(ctx, "sess-1", token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("spent token: want ErrInvalid, got %v", err)
	}
	// the replacement does
	if _, err := a.Validate(ctx, "sess-1", next); err != nil {
		t.Fatalf("replacement token: %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	a, _ := newTestAuthority(t, 0)
	ctx := context.Background()

	if _, err := a.Validate(ctx, "sess-1", ""); !errors.Is(err, ErrMissing) {
		t.Fatalf("empty presented: want ErrMissing, got %v", err)
	}
	if _, err := a.Validate(ctx, "sess-1", "anything"); !errors.Is(err, ErrMissing) {
		t.Fatalf("no stored token: want ErrMissing, got %v", err)
	}

	token, err := a.Generate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := a.Validate(ctx, "sess-1", "wrong-"+token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("mismatch: want ErrInvalid, got %v", err)
	}

	// a mismatch does not spend the stored token
	if _, err := a.Validate(ctx, "sess-1", token); err != nil {
		t.Fatalf("stored token must survive a mismatch: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	a, mr := newTestAuthority(t, time.Hour)
	ctx := context.Background()

	token, err := a.Generate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := a.Validate(ctx, "sess-1", token); !errors.Is(err, ErrMissing) {
		t.Fatalf("expired token: want ErrMissing, got %v", err)
	}
}

func TestClear(t *testing.T) {
	a, _ := newTestAuthority(t, 0)
	ctx := context.Background()

	token, err := a.Generate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := a.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := a.Validate(ctx, "sess-1", token); !errors.Is(err, ErrMissing) {
		t.Fatalf("cleared token: want ErrMissing, got %v", err)
	}
	// clearing again is a no-op
	if err := a.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}
