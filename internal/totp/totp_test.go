package totp

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B test vectors (SHA-1, 8 digits, 30s period).
func TestRFCVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	v := New(Config{Digits: 8})

	cases := []struct {
		unix int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}
	for _, tc := range cases {
		ok, err := v.Verify(secret, tc.code, time.Unix(tc.unix, 0))
		if err != nil {
			t.Fatalf("Verify(%d): %v", tc.unix, err)
		}
		if !ok {
			t.Fatalf("Verify(%d): code %s rejected", tc.unix, tc.code)
		}
	}
}

func TestSkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111109, 0)

	strict := New(Config{Digits: 8})
	loose := New(Config{Digits: 8, Skew: 1})

	// code for the previous step
	prev := "07081804"
	late := now.Add(30 * time.Second)

	if ok, _ := strict.Verify(secret, prev, late); ok {
		t.Fatal("skew 0 accepted a stale code")
	}
	if ok, _ := loose.Verify(secret, prev, late); !ok {
		t.Fatal("skew 1 rejected the previous step's code")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	v := New(Config{})
	secret := []byte("12345678901234567890")
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		if ok, _ := v.Verify(secret, code, now); ok {
			t.Fatalf("malformed code %q accepted", code)
		}
	}

	if _, err := v.Verify(nil, "123456", now); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestGenerateSecretAndURI(t *testing.T) {
	v := New(Config{Issuer: "authd"})

	raw, encoded, err := v.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(raw) != secretBytes {
		t.Fatalf("secret length: %d", len(raw))
	}

	raw2, _, err := v.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if hex.EncodeToString(raw) == hex.EncodeToString(raw2) {
		t.Fatal("secrets must be random")
	}

	uri := v.ProvisionURI(encoded, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("bad scheme: %s", uri)
	}
	if !strings.Contains(uri, "secret="+encoded) || !strings.Contains(uri, "issuer=authd") {
		t.Fatalf("uri missing parameters: %s", uri)
	}
}
