// Package device fingerprints clients into stable device identifiers
// and tracks per-user device trust.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

// ErrNotFound is returned when no device record exists.
var ErrNotFound = errors.New("device: not found")

const (
	keyPrefix  = "device:"
	defaultTTL = 90 * 24 * time.Hour
)

// Device is one fingerprinted client of a user. Many sessions may
// reference the same device.
type Device struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	OS          string    `json:"os"`
	Browser     string    `json:"browser"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Trusted     bool      `json:"trusted"`
}

// Registry persists device records keyed per user and device id.
type Registry struct {
	store *kv.Store
	ttl   time.Duration
}

// NewRegistry creates a device Registry. ttl of zero takes the 90d default.
func NewRegistry(store *kv.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Registry{store: store, ttl: ttl}
}

func key(userID, deviceID string) string { return keyPrefix + userID + ":" + deviceID }

// Fingerprint derives a stable device id from the user agent and the
// OS/browser hints parsed out of it. The id is the base64url form of a
// SHA-256 digest, truncated for key friendliness.
func Fingerprint(userAgent string) (id, os, browser string) {
	os = parseOS(userAgent)
	browser = parseBrowser(userAgent)
	sum := sha256.Sum256([]byte(userAgent + "|" + os + "|" + browser))
	return base64.RawURLEncoding.EncodeToString(sum[:16]), os, browser
}

func parseOS(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "android"):
		return "android"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		return "ios"
	case strings.Contains(lower, "windows"):
		return "windows"
	case strings.Contains(lower, "mac os"), strings.Contains(lower, "macintosh"):
		return "macos"
	case strings.Contains(lower, "linux"):
		return "linux"
	default:
		return "other"
	}
}

func parseBrowser(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "edg/"):
		return "edge"
	case strings.Contains(lower, "firefox"):
		return "firefox"
	case strings.Contains(lower, "chrome"):
		return "chrome"
	case strings.Contains(lower, "safari"):
		return "safari"
	case strings.Contains(lower, "curl"):
		return "curl"
	default:
		return "other"
	}
}

// Register records the client as a device of the user. A repeat sighting
// refreshes lastSeen and the record TTL; trust survives re-registration.
func (r *Registry) Register(ctx context.Context, userID, userAgent, ip string) (Device, error) {
	id, os, browser := Fingerprint(userAgent)
	now := time.Now()

	dev, err := r.Get(ctx, userID, id)
	switch {
	case err == nil:
		dev.LastSeen = now
	case errors.Is(err, ErrNotFound):
		dev = Device{
			ID:          id,
			UserID:      userID,
			Fingerprint: id,
			OS:          os,
			Browser:     browser,
			FirstSeen:   now,
			LastSeen:    now,
		}
	default:
		return Device{}, err
	}

	if err := r.write(ctx, dev); err != nil {
		return Device{}, err
	}
	return dev, nil
}

func (r *Registry) write(ctx context.Context, dev Device) error {
	blob, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("device: encode record: %w", err)
	}
	if err := r.store.Set(ctx, key(dev.UserID, dev.ID), blob, r.ttl); err != nil {
		return fmt.Errorf("device: persist record: %w", err)
	}
	return nil
}

// Get loads one device record.
func (r *Registry) Get(ctx context.Context, userID, deviceID string) (Device, error) {
	blob, err := r.store.Get(ctx, key(userID, deviceID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Device{}, ErrNotFound
		}
		return Device{}, err
	}
	var dev Device
	if err := json.Unmarshal(blob, &dev); err != nil {
		return Device{}, fmt.Errorf("device: decode record: %w", err)
	}
	return dev, nil
}

// Trust marks a device trusted.
func (r *Registry) Trust(ctx context.Context, userID, deviceID string) error {
	dev, err := r.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	dev.Trusted = true
	return r.write(ctx, dev)
}

// ListForUser returns every device record the user has.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]Device, error) {
	keys, err := r.store.ScanPrefix(ctx, keyPrefix+userID+":")
	if err != nil {
		return nil, fmt.Errorf("device: scan records: %w", err)
	}
	var out []Device
	for _, k := range keys {
		blob, err := r.store.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var dev Device
		if err := json.Unmarshal(blob, &dev); err != nil {
			continue
		}
		out = append(out, dev)
	}
	return out, nil
}

// Forget removes a device record. Removing an unknown device is a no-op.
func (r *Registry) Forget(ctx context.Context, userID, deviceID string) error {
	return r.store.Del(ctx, key(userID, deviceID))
}
