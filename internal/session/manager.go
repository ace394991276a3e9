package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

var (
	// ErrSessionNotFound is returned when no live record exists for an id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrInvalidDuration is returned when an extension falls outside the
	// allowed range.
	ErrInvalidDuration = errors.New("session: invalid duration")
	// ErrSessionLimitExceeded is the sentinel matched by errors.Is for
	// LimitExceededError.
	ErrSessionLimitExceeded = errors.New("session: limit exceeded")
)

// LimitExceededError reports the per-user session cap being hit.
type LimitExceededError struct {
	Current int
	Max     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("session: limit exceeded (%d/%d)", e.Current, e.Max)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrSessionLimitExceeded
}

const (
	keyPrefix      = "session:"
	activitySuffix = ":activities"
	userSetPrefix  = "user-sessions:"

	defaultTTL         = 24 * time.Hour
	defaultThreshold   = time.Hour
	defaultMaxSessions = 5

	minExtend = 15 * time.Minute
	maxExtend = 7 * 24 * time.Hour
)

// Config tunes session lifetime behavior. Zero values take defaults.
type Config struct {
	TTL              time.Duration
	RefreshThreshold time.Duration
	MaxSessions      int
}

// Manager owns the session lifecycle: creation under a per-user cap,
// sliding-window expiry on read, and explicit or bulk destruction.
type Manager struct {
	store *kv.Store
	cfg   Config
	log   *zap.Logger
}

// NewManager creates a session Manager backed by the given store.
func NewManager(store *kv.Store, cfg Config, log *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = defaultThreshold
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, cfg: cfg, log: log.Named("session")}
}

func sessionKey(id string) string { return keyPrefix + id }

func activityKey(id string) string { return keyPrefix + id + activitySuffix }

func userSetKey(userID string) string { return userSetPrefix + userID }

// Create stores a new session for the user. When the cap is reached,
// ForceLogoutOthers destroys every existing session first; without it
// the call fails with LimitExceededError.
func (m *Manager) Create(ctx context.Context, userID string, meta Metadata, opts CreateOptions) (Session, error) {
	max := opts.MaxSessions
	if max <= 0 {
		max = m.cfg.MaxSessions
	}

	existing, err := m.UserSessions(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if len(existing) >= max {
		if !opts.ForceLogoutOthers {
			return Session{}, &LimitExceededError{Current: len(existing), Max: max}
		}
		for _, s := range existing {
			if err := m.Destroy(ctx, s.ID); err != nil {
				return Session{}, fmt.Errorf("force logout: %w", err)
			}
		}
		m.log.Info("forced logout of existing sessions",
			zap.String("user_id", userID),
			zap.Int("count", len(existing)))
	}

	now := time.Now()
	sess := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		DeviceID:     meta.DeviceID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.write(ctx, sess, m.cfg.TTL); err != nil {
		return Session{}, err
	}
	if err := m.store.SAdd(ctx, userSetKey(userID), sess.ID); err != nil {
		return Session{}, fmt.Errorf("index session: %w", err)
	}
	if err := m.RecordActivity(ctx, sess.ID, "created", meta.IPAddress); err != nil {
		m.log.Warn("record activity failed", zap.Error(err))
	}
	return sess, nil
}

func (m *Manager) write(ctx context.Context, sess Session, ttl time.Duration) error {
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKey(sess.ID), blob, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Get loads a session. When the remaining TTL falls under the refresh
// threshold the record is rewritten with a full TTL and a fresh
// lastActivity; the refresh is a side effect of the read.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	blob, err := m.store.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}

	remaining, err := m.store.TTL(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	if remaining > 0 && remaining < m.cfg.RefreshThreshold {
		sess.LastActivity = time.Now()
		if err := m.write(ctx, sess, m.cfg.TTL); err != nil {
			return Session{}, err
		}
		_ = m.store.Expire(ctx, activityKey(id), m.cfg.TTL)
	}
	return sess, nil
}

// RecordActivity overwrites the session's last activity entry. Its TTL
// tracks the session blob's.
func (m *Manager) RecordActivity(ctx context.Context, id, action, ip string) error {
	entry := Activity{At: time.Now(), Action: action, IP: ip}
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	ttl, err := m.store.TTL(ctx, sessionKey(id))
	if err != nil || ttl <= 0 {
		ttl = m.cfg.TTL
	}
	return m.store.Set(ctx, activityKey(id), blob, ttl)
}

// LastActivity returns the last recorded activity entry for a session.
func (m *Manager) LastActivity(ctx context.Context, id string) (Activity, error) {
	blob, err := m.store.Get(ctx, activityKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Activity{}, ErrSessionNotFound
		}
		return Activity{}, err
	}
	var entry Activity
	if err := json.Unmarshal(blob, &entry); err != nil {
		return Activity{}, fmt.Errorf("decode activity: %w", err)
	}
	return entry, nil
}

// Destroy removes a session and its activity entry. Destroying a
// session that does not exist is a no-op.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	blob, err := m.store.Get(ctx, sessionKey(id))
	if err == nil {
		var sess Session
		if json.Unmarshal(blob, &sess) == nil && sess.UserID != "" {
			_ = m.store.SRem(ctx, userSetKey(sess.UserID), id)
		}
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return m.store.Del(ctx, sessionKey(id), activityKey(id))
}

// UserSessions enumerates a user's live sessions by scanning the
// session namespace. Cost is proportional to total live sessions, not
// the user's; callers treat the result as a best-effort snapshot.
func (m *Manager) UserSessions(ctx context.Context, userID string) ([]Session, error) {
	keys, err := m.store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	var out []Session
	for _, key := range keys {
		if strings.HasSuffix(key, activitySuffix) {
			continue
		}
		blob, err := m.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var sess Session
		if err := json.Unmarshal(blob, &sess); err != nil {
			continue
		}
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// UserSessionsByDevice filters a user's sessions down to one device.
func (m *Manager) UserSessionsByDevice(ctx context.Context, userID, deviceID string) ([]Session, error) {
	sessions, err := m.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range sessions {
		if s.DeviceID == deviceID {
			out = append(out, s)
		}
	}
	return out, nil
}

// RevokeDeviceSessions destroys every session the user holds on the
// given device and returns how many were destroyed.
func (m *Manager) RevokeDeviceSessions(ctx context.Context, userID, deviceID string) (int, error) {
	sessions, err := m.UserSessionsByDevice(ctx, userID, deviceID)
	if err != nil {
		return 0, err
	}
	for _, s := range sessions {
		if err := m.Destroy(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	return len(sessions), nil
}

// DestroyAllForUser removes every session the user holds.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	sessions, err := m.UserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, s := range sessions {
		if err := m.Destroy(ctx, s.ID); err != nil {
			return 0, err
		}
	}
	return len(sessions), nil
}

// CleanupOldSessions destroys the user's sessions created more than
// maxAgeDays ago and prunes stale index entries.
func (m *Manager) CleanupOldSessions(ctx context.Context, userID string, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	sessions, err := m.UserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(sessions))
	removed := 0
	for _, s := range sessions {
		if s.CreatedAt.Before(cutoff) {
			if err := m.Destroy(ctx, s.ID); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		live[s.ID] = true
	}

	members, err := m.store.SMembers(ctx, userSetKey(userID))
	if err != nil {
		return removed, err
	}
	for _, id := range members {
		if !live[id] {
			if err := m.store.SRem(ctx, userSetKey(userID), id); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// Extend sets the session's TTL to d. Durations outside [15m, 7d] fail
// with ErrInvalidDuration.
func (m *Manager) Extend(ctx context.Context, id string, d time.Duration) error {
	if d < minExtend || d > maxExtend {
		return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidDuration, d, minExtend, maxExtend)
	}

	blob, err := m.store.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	sess.LastActivity = time.Now()
	if err := m.write(ctx, sess, d); err != nil {
		return err
	}
	_ = m.store.Expire(ctx, activityKey(id), d)
	return nil
}
