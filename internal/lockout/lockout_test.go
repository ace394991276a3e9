package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

func newTestPolicy(t *testing.T, cfg Config) (*Policy, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewPolicy(kv.New(rdb), cfg, nil), mr
}

func TestLockAfterThreshold(t *testing.T) {
	p, _ := newTestPolicy(t, Config{Threshold: 3, LockFor: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if err := p.Check(ctx, "user-1"); err != nil {
			t.Fatalf("Check before threshold: %v", err)
		}
	}

	if err := p.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	err := p.Check(ctx, "user-1")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("want ErrAccountLocked, got %v", err)
	}
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("want LockedError, got %T", err)
	}
	if locked.RemainingMinutes() < 1 || locked.RemainingMinutes() > 15 {
		t.Fatalf("remaining minutes out of range: %d", locked.RemainingMinutes())
	}
}

func TestCountersFrozenWhileLocked(t *testing.T) {
	p, _ := newTestPolicy(t, Config{Threshold: 2, LockFor: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	attempts, err := p.Attempts(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}

	// further failures must not advance the counter
	if err := p.RecordFailure(ctx, "user-1"); err != nil {
		t.Fatalf("RecordFailure while locked: %v", err)
	}
	after, err := p.Attempts(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if after != attempts {
		t.Fatalf("counter advanced while locked: %d -> %d", attempts, after)
	}
}

func TestLockExpiresNaturally(t *testing.T) {
	p, mr := newTestPolicy(t, Config{Threshold: 2, LockFor: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := p.Check(ctx, "user-1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("want ErrAccountLocked, got %v", err)
	}

	mr.FastForward(16 * time.Minute)
	if err := p.Check(ctx, "user-1"); err != nil {
		t.Fatalf("Check after lock expiry: %v", err)
	}
	attempts, err := p.Attempts(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("counter not reset after expiry: %d", attempts)
	}
}

func TestResetOnSuccess(t *testing.T) {
	p, _ := newTestPolicy(t, Config{Threshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := p.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	attempts, err := p.Attempts(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("counter not cleared: %d", attempts)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	in := &record{Attempts: 7, LastAttempt: 1700000000, Locked: true, LockExpires: 1700000900}
	out, err := decodeRecord(encodeRecord(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}

	if _, err := decodeRecord([]byte{99, 0}); err == nil {
		t.Fatal("unknown version accepted")
	}
	if _, err := decodeRecord(nil); err == nil {
		t.Fatal("empty record accepted")
	}
}
