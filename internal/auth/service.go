// Package auth sequences the login, registration, refresh, and
// recovery flows across the session, token, device, and lockout
// components.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/csrf"
	"github.com/rvph10/old-saas-sub000/internal/device"
	"github.com/rvph10/old-saas-sub000/internal/directory"
	"github.com/rvph10/old-saas-sub000/internal/kv"
	"github.com/rvph10/old-saas-sub000/internal/lockout"
	"github.com/rvph10/old-saas-sub000/internal/notify"
	"github.com/rvph10/old-saas-sub000/internal/password"
	"github.com/rvph10/old-saas-sub000/internal/rate"
	"github.com/rvph10/old-saas-sub000/internal/session"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
	"github.com/rvph10/old-saas-sub000/internal/token"
	"github.com/rvph10/old-saas-sub000/internal/totp"
)

const (
	knownIPPrefix     = "known_ip:"
	verifyEmailPrefix = "verify_email:"
	resetPrefix       = "pwd_reset:"

	knownIPTTL     = 30 * 24 * time.Hour
	verifyEmailTTL = 15 * time.Minute
	resetTTL       = 15 * time.Minute

	notifyTimeout = 5 * time.Second
)

// Deps wires a Service's collaborators. All fields except Audit,
// Telemetry, Notifier, and Logger are required.
type Deps struct {
	Users     directory.UserDirectory
	Hasher    *password.Hasher
	Policy    password.Policy
	Sessions  *session.Manager
	Tokens    *token.Authority
	Csrf      *csrf.Authority
	Devices   *device.Registry
	Lockout   *lockout.Policy
	Limiter   *rate.Limiter
	Totp      *totp.Verifier
	Store     *kv.Store
	Notifier  notify.Notifier
	Audit     *audit.Dispatcher
	Telemetry telemetry.Telemetry
	Logger    *zap.Logger
}

// Service is the auth orchestrator.
type Service struct {
	users    directory.UserDirectory
	hasher   *password.Hasher
	policy   password.Policy
	sessions *session.Manager
	tokens   *token.Authority
	csrf     *csrf.Authority
	devices  *device.Registry
	lockout  *lockout.Policy
	limiter  *rate.Limiter
	totp     *totp.Verifier
	store    *kv.Store
	notifier notify.Notifier
	audit    *audit.Dispatcher
	tel      telemetry.Telemetry
	log      *zap.Logger
}

// NewService creates the orchestrator.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth: user directory is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case deps.Sessions == nil:
		return nil, errors.New("auth: session manager is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth: token authority is required")
	case deps.Csrf == nil:
		return nil, errors.New("auth: csrf authority is required")
	case deps.Devices == nil:
		return nil, errors.New("auth: device registry is required")
	case deps.Lockout == nil:
		return nil, errors.New("auth: lockout policy is required")
	case deps.Limiter == nil:
		return nil, errors.New("auth: rate limiter is required")
	case deps.Store == nil:
		return nil, errors.New("auth: store is required")
	}
	if deps.Policy == nil {
		deps.Policy = password.RulePolicy{MinLength: 8}
	}
	if deps.Totp == nil {
		deps.Totp = totp.New(totp.Config{Issuer: "authd"})
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Service{
		users:    deps.Users,
		hasher:   deps.Hasher,
		policy:   deps.Policy,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		csrf:     deps.Csrf,
		devices:  deps.Devices,
		lockout:  deps.Lockout,
		limiter:  deps.Limiter,
		totp:     deps.Totp,
		store:    deps.Store,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		tel:      deps.Telemetry,
		log:      deps.Logger.Named("auth"),
	}, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	s.audit.Emit(ctx, event)
}

func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func knownIPKey(userID, ip string) string {
	return knownIPPrefix + userID + ":" + hashIP(ip)
}

// alertOnNewLocation sends a login alert when the IP has no marker from
// the last 30 days. Best effort, never fails the login.
func (s *Service) alertOnNewLocation(ctx context.Context, user directory.User, meta RequestMeta) {
	ip := meta.IPAddress
	if ip == "" {
		return
	}
	key := knownIPKey(user.ID, ip)
	created, err := s.store.SetNX(ctx, key, []byte("1"), knownIPTTL)
	if err != nil {
		s.log.Warn("known-ip marker write failed", zap.Error(err))
		return
	}
	if !created {
		// known location, refresh the marker window
		_ = s.store.Expire(ctx, key, knownIPTTL)
		return
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.SendLoginAlert(nctx, user.Email, ip, meta.UserAgent); err != nil {
		s.log.Warn("new-location alert failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}
}

// issueFor registers the device, creates the session, and mints the
// token pair plus CSRF token for an authenticated user.
func (s *Service) issueFor(ctx context.Context, user directory.User, meta RequestMeta) (LoginResult, error) {
	dev, err := s.devices.Register(ctx, user.ID, meta.UserAgent, meta.IPAddress)
	if err != nil {
		return LoginResult{}, Wrap(CodeInternal, "device registration failed", err)
	}

	sess, err := s.sessions.Create(ctx, user.ID, session.Metadata{
		DeviceID:  dev.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}, session.CreateOptions{ForceLogoutOthers: meta.ForceLogoutOthers})
	if err != nil {
		var limit *session.LimitExceededError
		if errors.As(err, &limit) {
			s.tel.Count(telemetry.MetricSessionLimitHit)
			return LoginResult{}, E(CodeSessionLimitExceeded, "Session limit exceeded").
				WithDetail("current", limit.Current).
				WithDetail("max", limit.Max)
		}
		return LoginResult{}, Wrap(CodeInternal, "session creation failed", err)
	}
	s.tel.Count(telemetry.MetricSessionCreated)

	pair, err := s.tokens.Generate(ctx, user.ID, token.Metadata{
		SessionID: sess.ID,
		DeviceID:  dev.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		_ = s.sessions.Destroy(ctx, sess.ID)
		return LoginResult{}, Wrap(CodeInternal, "token issuance failed", err)
	}

	csrfToken, err := s.csrf.Generate(ctx, sess.ID)
	if err != nil {
		_ = s.sessions.Destroy(ctx, sess.ID)
		return LoginResult{}, Wrap(CodeInternal, "csrf issuance failed", err)
	}

	return LoginResult{
		UserID:           user.ID,
		SessionID:        sess.ID,
		DeviceID:         dev.ID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		CsrfToken:        csrfToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}
