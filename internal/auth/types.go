package auth

import (
	"time"

	"github.com/rvph10/old-saas-sub000/internal/session"
)

// RequestMeta carries per-request client context through the flows.
type RequestMeta struct {
	IPAddress         string
	UserAgent         string
	ForceLogoutOthers bool
}

// LoginInput is one login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	Meta       RequestMeta
}

// LoginResult is the outcome of a successful login or 2FA completion.
// When Requires2FA is set only PendingToken is populated; the client
// must complete the TOTP step to obtain the rest.
type LoginResult struct {
	Requires2FA  bool
	PendingToken string

	UserID           string
	SessionID        string
	DeviceID         string
	AccessToken      string
	RefreshToken     string
	CsrfToken        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RegisterInput is one registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegisterResult reports the created account.
type RegisterResult struct {
	UserID   string
	Username string
	Email    string
}

// RefreshResult is one rotation outcome.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionInfo is the client-facing view of one live session.
type SessionInfo struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Current      bool      `json:"current"`
}

func sessionInfo(s session.Session, currentID string) SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Current:      s.ID == currentID,
	}
}
