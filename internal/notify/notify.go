// Package notify declares the outbound notification capability. Delivery
// is always best-effort: the authentication path logs failures and moves
// on, it never fails a request because an email could not be sent.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers out-of-band messages to users. Calls are I/O
// boundaries: implementations must honor ctx cancellation and bounded
// timeouts.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendReset(ctx context.Context, email, token string) error
	SendLoginAlert(ctx context.Context, email, ip, userAgent string) error
}

// Noop drops everything.
type Noop struct{}

func (Noop) SendVerification(context.Context, string, string) error { return nil }
func (Noop) SendReset(context.Context, string, string) error        { return nil }
func (Noop) SendLoginAlert(context.Context, string, string, string) error {
	return nil
}

// LogNotifier writes notifications to the log instead of delivering them.
// Used in development and tests; tokens are logged, so never use it in
// production.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) SendVerification(_ context.Context, email, token string) error {
	n.logger.Info("verification email",
		zap.String("email", email),
		zap.String("token", token),
	)
	return nil
}

func (n *LogNotifier) SendReset(_ context.Context, email, token string) error {
	n.logger.Info("password reset email",
		zap.String("email", email),
		zap.String("token", token),
	)
	return nil
}

func (n *LogNotifier) SendLoginAlert(_ context.Context, email, ip, userAgent string) error {
	n.logger.Info("new location login alert",
		zap.String("email", email),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
	)
	return nil
}
