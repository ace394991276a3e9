package token

import (
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, cfg SignerConfig) *Signer {
	t.Helper()
	if cfg.Method == "" {
		cfg.Method = MethodHS256
		cfg.PrivateKey = []byte("test-signing-key-0123456789abcdef")
	}
	s, err := NewSigner(cfg)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignerRoundTrip(t *testing.T) {
	s := newTestSigner(t, SignerConfig{Issuer: "authd-test"})

	for _, kind := range []Kind{KindAccess, KindRefresh, KindTwoFactorPending} {
		raw, claims, err := s.Sign(kind, "user-1", "sess-1", "dev-1")
		if err != nil {
			t.Fatalf("Sign %s: %v", kind, err)
		}
		if claims.ID == "" {
			t.Fatalf("Sign %s: missing jti", kind)
		}

		parsed, err := s.Parse(raw, kind)
		if err != nil {
			t.Fatalf("Parse %s: %v", kind, err)
		}
		if parsed.UserID != "user-1" || parsed.SessionID != "sess-1" || parsed.DeviceID != "dev-1" {
			t.Fatalf("claims mismatch for %s: %+v", kind, parsed)
		}
	}
}

func TestSignerKindDiscrimination(t *testing.T) {
	s := newTestSigner(t, SignerConfig{})

	raw, _, err := s.Sign(KindTwoFactorPending, "user-1", "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Parse(raw, KindAccess); err == nil {
		t.Fatal("pending token accepted as access token")
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	s := newTestSigner(t, SignerConfig{})

	raw, _, err := s.Sign(KindAccess, "user-1", "sess-1", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := s.Parse(tampered, KindAccess); err == nil {
		t.Fatal("tampered signature accepted")
	}

	other := newTestSigner(t, SignerConfig{
		Method:     MethodHS256,
		PrivateKey: []byte("a-completely-different-signing-key"),
	})
	if _, err := other.Parse(raw, KindAccess); err == nil {
		t.Fatal("token verified under wrong key")
	}
}

func TestSignerRejectsExpired(t *testing.T) {
	s := newTestSigner(t, SignerConfig{
		Method:     MethodHS256,
		PrivateKey: []byte("test-signing-key-0123456789abcdef"),
		AccessTTL:  time.Millisecond,
	})

	raw, _, err := s.Sign(KindAccess, "user-1", "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Parse(raw, KindAccess); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestSignerTTLDefaults(t *testing.T) {
	s := newTestSigner(t, SignerConfig{})

	if got := s.TTL(KindAccess); got != defaultAccessTTL {
		t.Fatalf("access TTL: want %v got %v", defaultAccessTTL, got)
	}
	if got := s.TTL(KindRefresh); got != defaultRefreshTTL {
		t.Fatalf("refresh TTL: want %v got %v", defaultRefreshTTL, got)
	}
	if got := s.TTL(KindTwoFactorPending); got != defaultPendingTTL {
		t.Fatalf("pending TTL: want %v got %v", defaultPendingTTL, got)
	}
}
