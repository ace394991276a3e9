// Package lockout tracks failed login attempts per user and enforces
// temporary account locks.
package lockout

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

// ErrAccountLocked is the sentinel matched by errors.Is for LockedError.
var ErrAccountLocked = errors.New("lockout: account locked")

// LockedError reports an active lock and the time left on it.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("lockout: account locked, %d minute(s) remaining", e.RemainingMinutes())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RemainingMinutes rounds the time left up to whole minutes, never below 1.
func (e *LockedError) RemainingMinutes() int {
	m := int(math.Ceil(e.Remaining.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

const (
	keyPrefix = "lockout:"

	recordVersionV1 = 1

	defaultThreshold = 8
	defaultLockFor   = 15 * time.Minute
	counterTTL       = time.Hour
)

type record struct {
	Attempts    uint16
	LastAttempt int64
	Locked      bool
	LockExpires int64
}

func encodeRecord(r *record) []byte {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	if r.Locked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	_ = binary.Write(&buf, binary.BigEndian, r.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, r.LastAttempt)
	_ = binary.Write(&buf, binary.BigEndian, r.LockExpires)

	return buf.Bytes()
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid lockout record version")
	}

	locked, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	r := &record{Locked: locked == 1}
	if err := binary.Read(reader, binary.BigEndian, &r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LastAttempt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LockExpires); err != nil {
		return nil, err
	}
	return r, nil
}

// Config tunes the lockout thresholds. Zero values take defaults.
type Config struct {
	Threshold int
	LockFor   time.Duration
}

// Policy implements the Normal -> Locked -> Normal state machine per
// user. Counters are frozen while a lock is active.
type Policy struct {
	store *kv.Store
	cfg   Config
	log   *zap.Logger
}

// NewPolicy creates a lockout Policy backed by the given store.
func NewPolicy(store *kv.Store, cfg Config, log *zap.Logger) *Policy {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.LockFor <= 0 {
		cfg.LockFor = defaultLockFor
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{store: store, cfg: cfg, log: log.Named("lockout")}
}

func key(userID string) string { return keyPrefix + userID }

func (p *Policy) load(ctx context.Context, userID string) (*record, error) {
	data, err := p.store.Get(ctx, key(userID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(data)
}

// Check fails with LockedError while a lock is active. An expired lock
// clears the record, returning the user to the Normal state.
func (p *Policy) Check(ctx context.Context, userID string) error {
	r, err := p.load(ctx, userID)
	if err != nil || r == nil {
		return err
	}
	if !r.Locked {
		return nil
	}

	remaining := time.Until(time.Unix(r.LockExpires, 0))
	if remaining <= 0 {
		return p.Reset(ctx, userID)
	}
	return &LockedError{Remaining: remaining}
}

// RecordFailure increments the failure counter and locks the account
// once the threshold is reached. Failures during an active lock do not
// advance the counter.
func (p *Policy) RecordFailure(ctx context.Context, userID string) error {
	r, err := p.load(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if r == nil {
		r = &record{}
	}
	if r.Locked {
		if time.Unix(r.LockExpires, 0).After(now) {
			return nil
		}
		// lock lapsed, start a fresh count
		r = &record{}
	}

	r.Attempts++
	r.LastAttempt = now.Unix()
	ttl := counterTTL
	if int(r.Attempts) >= p.cfg.Threshold {
		r.Locked = true
		r.LockExpires = now.Add(p.cfg.LockFor).Unix()
		ttl = p.cfg.LockFor
		p.log.Warn("account locked after repeated failures",
			zap.String("user_id", userID),
			zap.Uint16("attempts", r.Attempts))
	}

	return p.store.Set(ctx, key(userID), encodeRecord(r), ttl)
}

// Reset clears the counter and any lock. Called on successful login.
func (p *Policy) Reset(ctx context.Context, userID string) error {
	return p.store.Del(ctx, key(userID))
}

// Attempts reports the current failure count.
func (p *Policy) Attempts(ctx context.Context, userID string) (int, error) {
	r, err := p.load(ctx, userID)
	if err != nil || r == nil {
		return 0, err
	}
	return int(r.Attempts), nil
}
