package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

var (
	// ErrInvalidRefreshToken is returned when a presented refresh token is
	// malformed, expired, or has no stored record.
	ErrInvalidRefreshToken = errors.New("token: invalid refresh token")
	// ErrSecurityBreach is returned when an already-revoked refresh token is
	// presented again. The whole family is revoked before this surfaces.
	ErrSecurityBreach = errors.New("token: refresh token reuse detected")
)

const (
	recordPrefix = "rt:"
	familyPrefix = "rtfam:"
	userPrefix   = "rtuser:"

	// ReasonRotated marks the normal supersede-on-rotation revocation.
	ReasonRotated = "rotated"
	// ReasonReuse marks a family revoked after reuse detection.
	ReasonReuse = "reuse_detected"

	recordGrace = 24 * time.Hour
)

// consumeScript atomically consumes a refresh record. Exactly one of two
// concurrent presenters of the same token observes "rotated"; the other
// observes "reused". A missing record reports "missing".
const consumeScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked == false then
  return {"missing", ""}
end
local family = redis.call("HGET", KEYS[1], "family") or ""
if revoked ~= "0" then
  return {"reused", family}
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "revoked_reason", ARGV[2])
return {"rotated", family}
`

var consumeLua = redis.NewScript(consumeScript)

// Record is the persisted view of one refresh token. Only the SHA-256 of
// the raw token is ever stored.
type Record struct {
	UserID        string
	DeviceID      string
	Family        string
	Successive    bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     time.Time
	RevokedReason string
}

// Revoked reports whether the record has been consumed or revoked.
func (r Record) Revoked() bool { return !r.RevokedAt.IsZero() }

// Metadata carries the request context a token pair is minted under.
type Metadata struct {
	SessionID     string
	DeviceID      string
	IPAddress     string
	UserAgent     string
	PreviousToken string
}

// Pair is one access/refresh issuance.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	Family           string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Authority issues access/refresh pairs and enforces the token family
// model: one active token per family, reuse revokes the chain.
type Authority struct {
	store  *kv.Store
	signer *Signer
	log    *zap.Logger
}

// NewAuthority creates a token Authority backed by the given store.
func NewAuthority(store *kv.Store, signer *Signer, log *zap.Logger) *Authority {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authority{store: store, signer: signer, log: log.Named("token")}
}

// Signer exposes the underlying signer for access-token verification.
func (a *Authority) Signer() *Signer { return a.signer }

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func recordKey(hash string) string { return recordPrefix + hash }

func familyKey(family string) string { return familyPrefix + family }

func userKey(userID string) string { return userPrefix + userID }

// Generate mints an access/refresh pair. When meta.PreviousToken resolves
// to a stored record the new refresh token joins that record's family
// with the successive flag set; otherwise a fresh family is started.
func (a *Authority) Generate(ctx context.Context, userID string, meta Metadata) (Pair, error) {
	family := uuid.NewString()
	successive := false
	if meta.PreviousToken != "" {
		if rec, err := a.Lookup(ctx, meta.PreviousToken); err == nil {
			family = rec.Family
			successive = true
		}
	}
	return a.issue(ctx, userID, meta, family, successive)
}

func (a *Authority) issue(ctx context.Context, userID string, meta Metadata, family string, successive bool) (Pair, error) {
	access, accessClaims, err := a.signer.Sign(KindAccess, userID, meta.SessionID, meta.DeviceID)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshClaims, err := a.signer.Sign(KindRefresh, userID, meta.SessionID, meta.DeviceID)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	hash := hashToken(refresh)
	now := time.Now()
	succ := "0"
	if successive {
		succ = "1"
	}
	fields := map[string]interface{}{
		"user_id":        userID,
		"device_id":      meta.DeviceID,
		"family":         family,
		"successive":     succ,
		"issued_at":      strconv.FormatInt(now.Unix(), 10),
		"expires_at":     strconv.FormatInt(refreshClaims.ExpiresAt.Unix(), 10),
		"revoked_at":     "0",
		"revoked_reason": "",
	}
	if err := a.store.HSet(ctx, recordKey(hash), fields); err != nil {
		return Pair{}, fmt.Errorf("persist refresh record: %w", err)
	}
	ttl := a.signer.TTL(KindRefresh) + recordGrace
	if err := a.store.Expire(ctx, recordKey(hash), ttl); err != nil {
		return Pair{}, fmt.Errorf("persist refresh record: %w", err)
	}
	if err := a.store.SAdd(ctx, familyKey(family), hash); err != nil {
		return Pair{}, fmt.Errorf("index refresh record: %w", err)
	}
	if err := a.store.SAdd(ctx, userKey(userID), hash); err != nil {
		return Pair{}, fmt.Errorf("index refresh record: %w", err)
	}
	_ = a.store.Expire(ctx, familyKey(family), ttl)
	_ = a.store.Expire(ctx, userKey(userID), ttl)

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		Family:           family,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token. The presented token is consumed
// atomically; presenting an already-consumed token revokes its entire
// family and fails with ErrSecurityBreach.
func (a *Authority) Refresh(ctx context.Context, oldToken string) (Pair, error) {
	claims, err := a.signer.Parse(oldToken, KindRefresh)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	hash := hashToken(oldToken)
	res, err := a.store.RunScript(ctx, consumeLua, []string{recordKey(hash)},
		strconv.FormatInt(time.Now().Unix(), 10), ReasonRotated)
	if err != nil {
		return Pair{}, fmt.Errorf("consume refresh record: %w", err)
	}
	status, family := parseConsumeResult(res)

	switch status {
	case "missing":
		return Pair{}, ErrInvalidRefreshToken
	case "reused":
		a.log.Warn("refresh token reuse detected, revoking family",
			zap.String("user_id", claims.UserID),
			zap.String("family", family))
		if family != "" {
			if err := a.RevokeFamily(ctx, family, ReasonReuse); err != nil {
				a.log.Error("revoke family after reuse", zap.Error(err))
			}
		}
		return Pair{}, ErrSecurityBreach
	}

	meta := Metadata{
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
	}
	return a.issue(ctx, claims.UserID, meta, family, true)
}

func parseConsumeResult(res interface{}) (status, family string) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return "", ""
	}
	status, _ = parts[0].(string)
	if len(parts) > 1 {
		family, _ = parts[1].(string)
	}
	return status, family
}

// Lookup returns the stored record for a raw refresh token.
func (a *Authority) Lookup(ctx context.Context, rawToken string) (Record, error) {
	return a.lookupHash(ctx, hashToken(rawToken))
}

func (a *Authority) lookupHash(ctx context.Context, hash string) (Record, error) {
	fields, err := a.store.HGetAll(ctx, recordKey(hash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Record{}, ErrInvalidRefreshToken
		}
		return Record{}, err
	}
	return recordFromFields(fields), nil
}

func recordFromFields(fields map[string]string) Record {
	rec := Record{
		UserID:        fields["user_id"],
		DeviceID:      fields["device_id"],
		Family:        fields["family"],
		Successive:    fields["successive"] == "1",
		RevokedReason: fields["revoked_reason"],
	}
	if v, err := strconv.ParseInt(fields["issued_at"], 10, 64); err == nil {
		rec.IssuedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		rec.ExpiresAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields["revoked_at"], 10, 64); err == nil && v > 0 {
		rec.RevokedAt = time.Unix(v, 0)
	}
	return rec
}

// Revoke marks a single refresh token revoked. Already-revoked records
// keep their original reason.
func (a *Authority) Revoke(ctx context.Context, rawToken, reason string) error {
	hash := hashToken(rawToken)
	rec, err := a.lookupHash(ctx, hash)
	if err != nil {
		return err
	}
	if rec.Revoked() {
		return nil
	}
	return a.markRevoked(ctx, hash, reason)
}

func (a *Authority) markRevoked(ctx context.Context, hash, reason string) error {
	_, err := a.store.RunScript(ctx, consumeLua, []string{recordKey(hash)},
		strconv.FormatInt(time.Now().Unix(), 10), reason)
	return err
}

// RevokeFamily revokes every token ever issued in a family.
func (a *Authority) RevokeFamily(ctx context.Context, family, reason string) error {
	hashes, err := a.store.SMembers(ctx, familyKey(family))
	if err != nil {
		return fmt.Errorf("load family members: %w", err)
	}
	for _, hash := range hashes {
		if err := a.markRevoked(ctx, hash, reason); err != nil {
			return fmt.Errorf("revoke family member: %w", err)
		}
	}
	return nil
}

// InvalidateUserTokens revokes every outstanding refresh token for a user.
// Used by logout-all, password reset, and breach response.
func (a *Authority) InvalidateUserTokens(ctx context.Context, userID, reason string) error {
	hashes, err := a.store.SMembers(ctx, userKey(userID))
	if err != nil {
		return fmt.Errorf("load user tokens: %w", err)
	}
	for _, hash := range hashes {
		if err := a.markRevoked(ctx, hash, reason); err != nil {
			return fmt.Errorf("revoke user token: %w", err)
		}
	}
	return nil
}

// CleanupExpired removes refresh records past their expiry and prunes
// dangling index-set members. Returns the number of entries removed.
func (a *Authority) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()

	keys, err := a.store.ScanPrefix(ctx, recordPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan refresh records: %w", err)
	}
	for _, key := range keys {
		fields, err := a.store.HGetAll(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return removed, err
		}
		rec := recordFromFields(fields)
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			if err := a.store.Del(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}

	for _, prefix := range []string{familyPrefix, userPrefix} {
		setKeys, err := a.store.ScanPrefix(ctx, prefix)
		if err != nil {
			return removed, fmt.Errorf("scan token indexes: %w", err)
		}
		for _, setKey := range setKeys {
			members, err := a.store.SMembers(ctx, setKey)
			if err != nil {
				return removed, err
			}
			for _, hash := range members {
				if _, err := a.store.TTL(ctx, recordKey(hash)); errors.Is(err, kv.ErrNotFound) {
					if err := a.store.SRem(ctx, setKey, hash); err != nil {
						return removed, err
					}
					removed++
				}
			}
		}
	}

	return removed, nil
}
