package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewManager(kv.New(rdb), cfg, nil), mr
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1", Metadata{
		DeviceID:  "dev-1",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.DeviceID != "dev-1" {
		t.Fatalf("session mismatch: %+v", got)
	}

	act, err := m.LastActivity(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LastActivity: %v", err)
	}
	if act.Action != "created" {
		t.Fatalf("want created activity, got %q", act.Action)
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session: want ErrSessionNotFound, got %v", err)
	}
}

func TestSessionCap(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxSessions: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	_, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("want ErrSessionLimitExceeded, got %v", err)
	}
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("want LimitExceededError, got %T", err)
	}
	if limitErr.Current != 3 || limitErr.Max != 3 {
		t.Fatalf("counts: %+v", limitErr)
	}

	// force logout destroys the three existing sessions first
	sess, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{ForceLogoutOthers: true})
	if err != nil {
		t.Fatalf("Create with force: %v", err)
	}
	sessions, err := m.UserSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Fatalf("want only the new session, got %d", len(sessions))
	}
}

func TestSlidingRefresh(t *testing.T) {
	m, mr := newTestManager(t, Config{TTL: 24 * time.Hour, RefreshThreshold: time.Hour})
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// reads far from expiry do not rewrite the record
	if _, err := m.Get(ctx, sess.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + sess.ID); ttl > 24*time.Hour || ttl < 23*time.Hour {
		t.Fatalf("unexpected TTL after early read: %v", ttl)
	}

	// within the threshold, a read restores the full TTL
	mr.FastForward(23*time.Hour + 30*time.Minute)
	if _, err := m.Get(ctx, sess.ID); err != nil {
		t.Fatalf("Get near expiry: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + sess.ID); ttl < 23*time.Hour {
		t.Fatalf("TTL not refreshed: %v", ttl)
	}

	// an untouched session expires naturally
	mr.FastForward(25 * time.Hour)
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session: want ErrSessionNotFound, got %v", err)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Destroy(ctx, sess.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := m.Destroy(ctx, sess.ID); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	if _, err := m.LastActivity(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("activity should be removed, got %v", err)
	}
}

func TestRevokeDeviceSessions(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxSessions: 10})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-a"}, CreateOptions{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	keep, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-b"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := m.RevokeDeviceSessions(ctx, "user-1", "dev-a")
	if err != nil {
		t.Fatalf("RevokeDeviceSessions: %v", err)
	}
	if count != 2 {
		t.Fatalf("want 2 revoked, got %d", count)
	}

	remaining, err := m.UserSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserSessions: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != keep.ID {
		t.Fatalf("want only dev-b session to survive, got %d", len(remaining))
	}
}

func TestDestroyAllForUser(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxSessions: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other, err := m.Create(ctx, "user-2", Metadata{DeviceID: "dev-2"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := m.DestroyAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("DestroyAllForUser: %v", err)
	}
	if count != 3 {
		t.Fatalf("want 3 destroyed, got %d", count)
	}
	if _, err := m.Get(ctx, other.ID); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
}

func TestExtendClamps(t *testing.T) {
	m, mr := newTestManager(t, Config{})
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Extend(ctx, sess.ID, 5*time.Minute); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("too short: want ErrInvalidDuration, got %v", err)
	}
	if err := m.Extend(ctx, sess.ID, 8*24*time.Hour); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("too long: want ErrInvalidDuration, got %v", err)
	}

	if err := m.Extend(ctx, sess.ID, 48*time.Hour); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + sess.ID); ttl < 47*time.Hour {
		t.Fatalf("TTL not extended: %v", ttl)
	}

	if err := m.Extend(ctx, "missing", time.Hour); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session: want ErrSessionNotFound, got %v", err)
	}
}

func TestCleanupOldSessions(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxSessions: 10})
	ctx := context.Background()

	old, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fresh, err := m.Create(ctx, "user-1", Metadata{DeviceID: "dev-1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// backdate the first session past the cutoff
	stale, err := m.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stale.CreatedAt = time.Now().AddDate(0, 0, -40)
	if err := m.write(ctx, stale, time.Hour); err != nil {
		t.Fatalf("write: %v", err)
	}

	removed, err := m.CleanupOldSessions(ctx, "user-1", 30)
	if err != nil {
		t.Fatalf("CleanupOldSessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("want 1 removed, got %d", removed)
	}
	if _, err := m.Get(ctx, old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session should be gone, got %v", err)
	}
	if _, err := m.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session must survive: %v", err)
	}
}
