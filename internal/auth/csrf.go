package auth

import (
	"context"
	"errors"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/csrf"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
)

// IssueCsrfToken mints a fresh CSRF token for a live session.
func (s *Service) IssueCsrfToken(ctx context.Context, sessionID string) (string, error) {
	if _, err := s.ValidateSession(ctx, sessionID); err != nil {
		return "", err
	}
	tok, err := s.csrf.Generate(ctx, sessionID)
	if err != nil {
		return "", Wrap(CodeInternal, "csrf issuance failed", err)
	}
	return tok, nil
}

// ValidateCsrf checks the double-submit token for a state-changing
// request and returns the rotated replacement on success.
func (s *Service) ValidateCsrf(ctx context.Context, sessionID, presented string) (string, error) {
	next, err := s.csrf.Validate(ctx, sessionID, presented)
	if err != nil {
		s.emit(ctx, audit.Event{
			EventType: audit.EventCsrfRejected,
			SessionID: sessionID,
		})
		s.tel.Count(telemetry.MetricCsrfRejected)
		switch {
		case errors.Is(err, csrf.ErrMissing):
			return "", E(CodeCsrfTokenMissing, "CSRF token missing")
		case errors.Is(err, csrf.ErrInvalid):
			return "", E(CodeCsrfTokenInvalid, "CSRF token invalid")
		default:
			return "", Wrap(CodeInternal, "csrf validation failed", err)
		}
	}
	return next, nil
}
