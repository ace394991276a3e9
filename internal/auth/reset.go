package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/kv"
	"github.com/rvph10/old-saas-sub000/internal/rate"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
)

// RequestPasswordReset issues a reset token for the account behind the
// email. The response is identical whether or not the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip string) error {
	if err := s.limiter.AllowPair(ctx, rate.ScopePasswordReset, strings.ToLower(email), ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return E(CodeRateLimited, "Too many requests, try again later")
		}
		return Wrap(CodeInternal, "rate check failed", err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user.Deleted {
		return nil
	}

	tok, err := randomToken()
	if err != nil {
		return Wrap(CodeInternal, "token generation failed", err)
	}
	if err := s.store.Set(ctx, resetPrefix+tok, []byte(user.ID), resetTTL); err != nil {
		return Wrap(CodeInternal, "reset token persistence failed", err)
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.SendReset(nctx, user.Email, tok); err != nil {
		s.log.Warn("reset email failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset token: the new password must pass
// policy and must not appear in the reuse history; on success every
// session and refresh token of the user is revoked.
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string) error {
	userID, err := s.store.Get(ctx, resetPrefix+tok)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return E(CodeValidationFailed, "Invalid or expired reset token")
		}
		return Wrap(CodeInternal, "reset lookup failed", err)
	}

	if result := s.policy.Validate(newPassword); !result.OK {
		return E(CodeValidationFailed, "Password does not meet policy").
			WithDetail("reasons", result.Reasons)
	}

	if err := s.checkPasswordReuse(ctx, string(userID), newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return Wrap(CodeInternal, "password hashing failed", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, string(userID), hash); err != nil {
		return Wrap(CodeInternal, "password update failed", err)
	}
	if err := s.users.AppendPasswordHistory(ctx, string(userID), hash); err != nil {
		s.log.Warn("password history append failed", zap.Error(err))
	}

	// force re-login everywhere
	if _, err := s.sessions.DestroyAllForUser(ctx, string(userID)); err != nil {
		return Wrap(CodeInternal, "session revocation failed", err)
	}
	if err := s.tokens.InvalidateUserTokens(ctx, string(userID), "password_reset"); err != nil {
		return Wrap(CodeInternal, "token revocation failed", err)
	}
	if err := s.store.Del(ctx, resetPrefix+tok); err != nil {
		s.log.Warn("reset token delete failed", zap.Error(err))
	}
	if err := s.lockout.Reset(ctx, string(userID)); err != nil {
		s.log.Warn("lockout reset failed", zap.Error(err))
	}

	s.emit(ctx, audit.Event{
		EventType: audit.EventPasswordReset,
		UserID:    string(userID),
		Success:   true,
	})
	s.tel.Count(telemetry.MetricPasswordReset)
	return nil
}

func (s *Service) checkPasswordReuse(ctx context.Context, userID, candidate string) error {
	history, err := s.users.PasswordHistory(ctx, userID)
	if err != nil {
		return Wrap(CodeInternal, "password history lookup failed", err)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Wrap(CodeInternal, "user lookup failed", err)
	}

	for _, old := range append([]string{user.PasswordHash}, history...) {
		if old == "" {
			continue
		}
		match, err := s.hasher.Verify(candidate, old)
		if err != nil {
			return Wrap(CodeInternal, "history verification failed", err)
		}
		if match {
			return E(CodeValidationFailed, "Password was used recently, choose a different one")
		}
	}
	return nil
}
