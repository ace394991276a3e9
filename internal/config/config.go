// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Env        string `env:"APP_ENV" envDefault:"development"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	Redis   Redis   `envPrefix:"REDIS_"`
	Token   Token   `envPrefix:"TOKEN_"`
	Session Session `envPrefix:"SESSION_"`
	Lockout Lockout `envPrefix:"LOCKOUT_"`
	Cookie  Cookie  `envPrefix:"COOKIE_"`
	Audit   Audit   `envPrefix:"AUDIT_"`
}

// Redis is the store connection configuration.
type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Token configures signing and lifetimes.
type Token struct {
	SigningMethod string        `env:"SIGNING_METHOD" envDefault:"hs256"`
	SigningKey    string        `env:"SIGNING_KEY"`
	PublicKey     string        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER" envDefault:"authd"`
	AccessTTL     time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	PendingTTL    time.Duration `env:"PENDING_TTL" envDefault:"5m"`
}

// Session configures lifetime behavior.
type Session struct {
	TTL              time.Duration `env:"TTL" envDefault:"24h"`
	RefreshThreshold time.Duration `env:"REFRESH_THRESHOLD" envDefault:"1h"`
	MaxPerUser       int           `env:"MAX_PER_USER" envDefault:"5"`
}

// Lockout configures the failed-login policy.
type Lockout struct {
	Threshold int           `env:"THRESHOLD" envDefault:"8"`
	LockFor   time.Duration `env:"LOCK_FOR" envDefault:"15m"`
}

// Cookie configures the auth cookie attributes.
type Cookie struct {
	Domain string `env:"DOMAIN"`
	Secure bool   `env:"SECURE" envDefault:"true"`
}

// Audit configures the async event dispatcher.
type Audit struct {
	Enabled    bool `env:"ENABLED" envDefault:"true"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"1024"`
}

// Production reports whether the service runs in production mode.
// Validation detail is stripped from error responses in production.
func (c Config) Production() bool { return c.Env == "production" }

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Token.SigningKey == "" {
		return errors.New("config: TOKEN_SIGNING_KEY is required")
	}
	if c.Token.SigningMethod != "hs256" && c.Token.SigningMethod != "ed25519" {
		return fmt.Errorf("config: unsupported signing method %q", c.Token.SigningMethod)
	}
	if c.Token.SigningMethod == "ed25519" && c.Token.PublicKey == "" {
		return errors.New("config: TOKEN_PUBLIC_KEY is required for ed25519")
	}
	if c.Session.MaxPerUser < 1 {
		return errors.New("config: SESSION_MAX_PER_USER must be at least 1")
	}
	if c.Lockout.Threshold < 1 {
		return errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	return nil
}
