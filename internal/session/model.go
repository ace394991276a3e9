package session

import "time"

// Session binds an authenticated client context to a user and device.
// A session with no store entry is nonexistent, never partially valid.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Activity is the last recorded action on a session.
type Activity struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	IP     string    `json:"ip,omitempty"`
}

// Metadata carries the request context a session is created under.
type Metadata struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// CreateOptions tune per-call session creation behavior. Zero values
// fall back to the manager's configuration.
type CreateOptions struct {
	MaxSessions       int
	ForceLogoutOthers bool
}
