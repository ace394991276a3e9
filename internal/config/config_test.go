package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKEN_SIGNING_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr default: %s", cfg.ListenAddr)
	}
	if cfg.Token.AccessTTL != 15*time.Minute || cfg.Token.RefreshTTL != 168*time.Hour {
		t.Fatalf("token TTL defaults: %+v", cfg.Token)
	}
	if cfg.Session.MaxPerUser != 5 || cfg.Lockout.Threshold != 8 {
		t.Fatalf("policy defaults: %+v / %+v", cfg.Session, cfg.Lockout)
	}
	if cfg.Production() {
		t.Fatal("default env must not be production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOKEN_SIGNING_KEY", "test-key")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SESSION_MAX_PER_USER", "10")
	t.Setenv("LOCKOUT_LOCK_FOR", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("expected production mode")
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr: %s", cfg.Redis.Addr)
	}
	if cfg.Session.MaxPerUser != 10 || cfg.Lockout.LockFor != 30*time.Minute {
		t.Fatalf("overrides not applied: %+v / %+v", cfg.Session, cfg.Lockout)
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TOKEN_SIGNING_KEY") {
		t.Fatalf("missing key: want TOKEN_SIGNING_KEY error, got %v", err)
	}

	t.Setenv("TOKEN_SIGNING_KEY", "test-key")
	t.Setenv("TOKEN_SIGNING_METHOD", "rs512")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "signing method") {
		t.Fatalf("bad method: got %v", err)
	}
}
