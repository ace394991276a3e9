// Package audit emits structured security events (logins, rotations,
// breaches) through a bounded asynchronous dispatcher so that slow sinks
// never block the authentication path.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted by the authentication core.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventLoginLocked       = "login_locked"
	EventLoginRateLimited  = "login_rate_limited"
	EventLoginNewLocation  = "login_new_location"
	EventRegister          = "register"
	EventRefreshSuccess    = "refresh_success"
	EventRefreshInvalid    = "refresh_invalid"
	EventRefreshReuse      = "refresh_reuse_detected"
	EventFamilyRevoked     = "token_family_revoked"
	EventSessionCreated    = "session_created"
	EventSessionDestroyed  = "session_destroyed"
	EventSessionRevoked    = "session_revoked"
	EventLogout            = "logout"
	EventCsrfRejected      = "csrf_rejected"
	EventPasswordReset     = "password_reset"
	EventEmailVerified     = "email_verified"
	EventTwoFactorRequired = "two_factor_required"
	EventTwoFactorSuccess  = "two_factor_success"
	EventTwoFactorFailure  = "two_factor_failure"
)

// Event is one structured audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives events from the dispatcher.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink buffers events on a channel for consumption by tests or an
// external forwarder.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON event per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
