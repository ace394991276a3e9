// Package totp implements RFC 6238 time-based one-time passwords for
// the two-factor login step.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// Config tunes code generation. Zero values take the RFC defaults.
type Config struct {
	Issuer string
	Period int
	Digits int
	Skew   int
}

// Verifier generates provisioning secrets and checks submitted codes.
type Verifier struct {
	cfg Config
}

// New creates a Verifier.
func New(cfg Config) *Verifier {
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &Verifier{cfg: cfg}
}

// GenerateSecret returns a fresh shared secret and its base32 form for
// authenticator enrollment.
func (v *Verifier) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth URI encoded into enrollment QR codes.
func (v *Verifier) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(v.cfg.Issuer + ":" + account)

	q := url.Values{}
	q.Set("secret", secretBase32)
	q.Set("issuer", v.cfg.Issuer)
	q.Set("period", strconv.Itoa(v.cfg.Period))
	q.Set("digits", strconv.Itoa(v.cfg.Digits))
	q.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + q.Encode()
}

// Verify checks a submitted code against the secret, allowing the
// configured step skew. The comparison is constant time per candidate.
func (v *Verifier) Verify(secret []byte, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != v.cfg.Digits || !numeric(trimmed) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, errors.New("totp: empty secret")
	}

	base := now.Unix() / int64(v.cfg.Period)
	for step := -v.cfg.Skew; step <= v.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotp(secret, counter, v.cfg.Digits)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
