package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/directory"
	"github.com/rvph10/old-saas-sub000/internal/kv"
	"github.com/rvph10/old-saas-sub000/internal/rate"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
)

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("entropy source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Register creates an account, stores the initial password in the
// bounded reuse history, and issues an email verification token.
// Notifications are best effort.
func (s *Service) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return RegisterResult{}, E(CodeValidationFailed, "Username and a valid email are required")
	}

	if result := s.policy.Validate(input.Password); !result.OK {
		return RegisterResult{}, E(CodeValidationFailed, "Password does not meet policy").
			WithDetail("reasons", result.Reasons)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return RegisterResult{}, Wrap(CodeInternal, "password hashing failed", err)
	}

	user, err := s.users.Create(ctx, directory.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicate) {
			return RegisterResult{}, E(CodeAlreadyExists, "Username or email already registered")
		}
		return RegisterResult{}, Wrap(CodeInternal, "user creation failed", err)
	}

	if err := s.users.AppendPasswordHistory(ctx, user.ID, hash); err != nil {
		s.log.Warn("password history append failed", zap.Error(err))
	}

	if err := s.sendVerification(ctx, user); err != nil {
		s.log.Warn("verification issuance failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	s.emit(ctx, audit.Event{
		EventType: audit.EventRegister,
		UserID:    user.ID,
		Success:   true,
	})
	s.tel.Count(telemetry.MetricRegister)

	return RegisterResult{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

func (s *Service) sendVerification(ctx context.Context, user directory.User) error {
	tok, err := randomToken()
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, verifyEmailPrefix+tok, []byte(user.ID), verifyEmailTTL); err != nil {
		return fmt.Errorf("persist verification token: %w", err)
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.SendVerification(nctx, user.Email, tok); err != nil {
		s.log.Warn("verification email failed", zap.Error(err))
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the account
// verified. The token is single use.
func (s *Service) VerifyEmail(ctx context.Context, tok string) error {
	userID, err := s.store.Get(ctx, verifyEmailPrefix+tok)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return E(CodeValidationFailed, "Invalid or expired verification token")
		}
		return Wrap(CodeInternal, "verification lookup failed", err)
	}

	if err := s.users.MarkEmailVerified(ctx, string(userID)); err != nil {
		return Wrap(CodeInternal, "verification update failed", err)
	}
	if err := s.store.Del(ctx, verifyEmailPrefix+tok); err != nil {
		s.log.Warn("verification token delete failed", zap.Error(err))
	}

	s.emit(ctx, audit.Event{
		EventType: audit.EventEmailVerified,
		UserID:    string(userID),
		Success:   true,
	})
	return nil
}

// ResendVerification issues a fresh verification token. The response is
// identical whether or not the email exists.
func (s *Service) ResendVerification(ctx context.Context, email, ip string) error {
	if err := s.limiter.AllowPair(ctx, rate.ScopeResend, strings.ToLower(email), ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return E(CodeRateLimited, "Too many requests, try again later")
		}
		return Wrap(CodeInternal, "rate check failed", err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user.EmailVerified || user.Deleted {
		return nil
	}
	if err := s.sendVerification(ctx, user); err != nil {
		s.log.Warn("resend verification failed", zap.Error(err))
	}
	return nil
}
