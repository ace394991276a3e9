package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/directory"
	"github.com/rvph10/old-saas-sub000/internal/lockout"
	"github.com/rvph10/old-saas-sub000/internal/rate"
	"github.com/rvph10/old-saas-sub000/internal/session"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
	"github.com/rvph10/old-saas-sub000/internal/token"
)

// Login runs the full gate sequence for one attempt. Every failure is
// terminal for the request; no partial session or token survives.
func (s *Service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	start := time.Now()
	defer func() {
		s.tel.Observe(telemetry.MetricLoginLatencySecs, time.Since(start).Seconds())
	}()

	identifier := strings.TrimSpace(input.Identifier)
	meta := input.Meta

	if err := s.limiter.AllowPair(ctx, rate.ScopeLogin, strings.ToLower(identifier), meta.IPAddress); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			s.tel.Count(telemetry.MetricLoginRateLimited)
			return LoginResult{}, E(CodeRateLimited, "Too many attempts, try again later")
		}
		return LoginResult{}, Wrap(CodeInternal, "rate check failed", err)
	}

	user, lookupErr := s.lookupUser(ctx, identifier)

	// lock state is keyed by user id, so an unknown identifier skips
	// straight to the credential check below
	if lookupErr == nil {
		if err := s.lockout.Check(ctx, user.ID); err != nil {
			var locked *lockout.LockedError
			if errors.As(err, &locked) {
				s.emit(ctx, audit.Event{
					EventType: audit.EventLoginFailure,
					UserID:    user.ID,
					IP:        meta.IPAddress,
					Error:     string(CodeAccountLocked),
				})
				s.tel.Count(telemetry.MetricLoginLocked)
				return LoginResult{}, E(CodeAccountLocked, "Account temporarily locked").
					WithDetail("retry_after_minutes", locked.RemainingMinutes())
			}
			return LoginResult{}, Wrap(CodeInternal, "lock check failed", err)
		}
	}

	passwordOK := false
	if lookupErr == nil {
		ok, err := s.hasher.Verify(input.Password, user.PasswordHash)
		passwordOK = ok && err == nil
	}
	if !passwordOK {
		if lookupErr == nil {
			if err := s.lockout.RecordFailure(ctx, user.ID); err != nil {
				s.log.Warn("record login failure", zap.Error(err))
			}
		}
		s.emit(ctx, audit.Event{
			EventType: audit.EventLoginFailure,
			IP:        meta.IPAddress,
			Error:     string(CodeInvalidCredentials),
		})
		s.tel.Count(telemetry.MetricLoginFailure)
		return LoginResult{}, errInvalidCredentials()
	}

	// unverified and soft-deleted accounts are rejected identically
	if !user.EmailVerified || user.Deleted {
		s.tel.Count(telemetry.MetricLoginFailure)
		return LoginResult{}, E(CodeEmailNotVerified, "Email address not verified")
	}

	if user.TwoFactorEnabled {
		pending, _, err := s.tokens.Signer().Sign(token.KindTwoFactorPending, user.ID, "", "")
		if err != nil {
			return LoginResult{}, Wrap(CodeInternal, "pending token issuance failed", err)
		}
		return LoginResult{Requires2FA: true, PendingToken: pending}, nil
	}

	return s.completeLogin(ctx, user, meta, identifier)
}

// Verify2FA exchanges a pending token plus a valid TOTP code for the
// full session and token issuance.
func (s *Service) Verify2FA(ctx context.Context, pendingToken, code string, meta RequestMeta) (LoginResult, error) {
	claims, err := s.tokens.Signer().Parse(pendingToken, token.KindTwoFactorPending)
	if err != nil {
		return LoginResult{}, Wrap(CodeTwoFactorInvalid, "Invalid or expired two-factor token", err)
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return LoginResult{}, errInvalidCredentials()
	}

	ok, err := s.totp.Verify(user.TwoFactorSecret, code, time.Now())
	if err != nil {
		return LoginResult{}, Wrap(CodeInternal, "two-factor verification failed", err)
	}
	if !ok {
		s.emit(ctx, audit.Event{
			EventType: audit.EventTwoFactorFailure,
			UserID:    user.ID,
			IP:        meta.IPAddress,
		})
		if err := s.lockout.RecordFailure(ctx, user.ID); err != nil {
			s.log.Warn("record 2fa failure", zap.Error(err))
		}
		return LoginResult{}, E(CodeTwoFactorInvalid, "Invalid two-factor code")
	}

	return s.completeLogin(ctx, user, meta, user.Username)
}

func (s *Service) completeLogin(ctx context.Context, user directory.User, meta RequestMeta, identifier string) (LoginResult, error) {
	result, err := s.issueFor(ctx, user, meta)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.lockout.Reset(ctx, user.ID); err != nil {
		s.log.Warn("lockout reset failed", zap.Error(err))
	}
	if err := s.limiter.Reset(ctx, rate.ScopeLogin, strings.ToLower(identifier)); err != nil {
		s.log.Warn("rate reset failed", zap.Error(err))
	}

	s.alertOnNewLocation(ctx, user, meta)

	s.emit(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		UserID:    user.ID,
		SessionID: result.SessionID,
		DeviceID:  result.DeviceID,
		IP:        meta.IPAddress,
		Success:   true,
	})
	s.tel.Count(telemetry.MetricLoginSuccess)
	return result, nil
}

func (s *Service) lookupUser(ctx context.Context, identifier string) (directory.User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.GetByEmail(ctx, identifier)
	}
	return s.users.GetByUsername(ctx, identifier)
}

// Refresh rotates a refresh token and keeps the owning session alive.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSecurityBreach):
			s.emit(ctx, audit.Event{
				EventType: audit.EventRefreshReuse,
				Error:     string(CodeSecurityBreach),
			})
			s.tel.Count(telemetry.MetricRefreshReuse)
			return RefreshResult{}, Wrap(CodeSecurityBreach, "Refresh token reuse detected", err)
		case errors.Is(err, token.ErrInvalidRefreshToken):
			s.tel.Count(telemetry.MetricRefreshFailure)
			return RefreshResult{}, Wrap(CodeInvalidRefreshToken, "Invalid refresh token", err)
		default:
			s.tel.Count(telemetry.MetricRefreshFailure)
			return RefreshResult{}, Wrap(CodeInternal, "refresh failed", err)
		}
	}

	// reading the session applies the sliding TTL refresh
	if claims, err := s.tokens.Signer().Parse(pair.RefreshToken, token.KindRefresh); err == nil && claims.SessionID != "" {
		if _, err := s.sessions.Get(ctx, claims.SessionID); err == nil {
			if err := s.sessions.RecordActivity(ctx, claims.SessionID, "refreshed", ""); err != nil {
				s.log.Warn("record refresh activity", zap.Error(err))
			}
		}
	}

	s.tel.Count(telemetry.MetricRefreshSuccess)
	return RefreshResult{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// Logout destroys the session, revokes the presented refresh token, and
// clears the session's CSRF token. Missing pieces are ignored so logout
// is idempotent.
func (s *Service) Logout(ctx context.Context, sessionID, refreshToken string) error {
	if refreshToken != "" {
		if err := s.tokens.Revoke(ctx, refreshToken, "logout"); err != nil &&
			!errors.Is(err, token.ErrInvalidRefreshToken) {
			return Wrap(CodeInternal, "refresh revocation failed", err)
		}
	}
	if sessionID != "" {
		if err := s.csrf.Clear(ctx, sessionID); err != nil {
			s.log.Warn("csrf clear failed", zap.Error(err))
		}
		if err := s.sessions.Destroy(ctx, sessionID); err != nil {
			return Wrap(CodeInternal, "session destroy failed", err)
		}
		s.tel.Count(telemetry.MetricSessionDestroyed)
	}
	s.emit(ctx, audit.Event{
		EventType: audit.EventLogout,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll destroys every session and refresh token the user holds.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		return 0, Wrap(CodeInternal, "session destroy failed", err)
	}
	if err := s.tokens.InvalidateUserTokens(ctx, userID, "logout_all"); err != nil {
		return count, Wrap(CodeInternal, "token invalidation failed", err)
	}
	s.tel.Add(telemetry.MetricSessionDestroyed, int64(count))
	s.emit(ctx, audit.Event{
		EventType: audit.EventLogout,
		UserID:    userID,
		Success:   true,
	})
	return count, nil
}

// ValidateSession resolves an access session for middleware and the
// session list surface.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (session.Session, error) {
	start := time.Now()
	sess, err := s.sessions.Get(ctx, sessionID)
	s.tel.Observe(telemetry.MetricSessionLatencySecs, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return session.Session{}, E(CodeSessionExpired, "Session expired or not found")
		}
		return session.Session{}, Wrap(CodeInternal, "session lookup failed", err)
	}
	return sess, nil
}

// Sessions lists the user's live sessions for the HTTP surface.
func (s *Service) Sessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	sessions, err := s.sessions.UserSessions(ctx, userID)
	if err != nil {
		return nil, Wrap(CodeInternal, "session enumeration failed", err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo(sess, currentSessionID))
	}
	return out, nil
}

// RevokeSession destroys one of the user's sessions by id. Revoking a
// session the user does not own is reported as not found.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil || sess.UserID != userID {
		return E(CodeSessionExpired, "Session expired or not found")
	}
	if err := s.csrf.Clear(ctx, sessionID); err != nil {
		s.log.Warn("csrf clear failed", zap.Error(err))
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return Wrap(CodeInternal, "session destroy failed", err)
	}
	s.tel.Count(telemetry.MetricSessionDestroyed)
	return nil
}
