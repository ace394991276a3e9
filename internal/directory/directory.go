// Package directory declares the user-record storage capability consumed
// by the authentication core. The service does not own user storage; it
// only looks records up, compares password hashes, and maintains a bounded
// password history through this interface.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown user ids, usernames, and emails.
var ErrNotFound = errors.New("user not found")

// ErrDuplicate is returned when a username or email is already taken.
var ErrDuplicate = errors.New("user already exists")

// PasswordHistoryLimit bounds the stored previous-password hashes per user.
const PasswordHistoryLimit = 5

// User is the account record as seen by the authentication core.
type User struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	TwoFactorEnabled bool
	TwoFactorSecret  []byte
	Deleted          bool
	CreatedAt        time.Time
}

// CreateUserInput is the input for UserDirectory.Create.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
}

// UserDirectory is the external user store. All methods are I/O boundaries
// and must honor ctx cancellation.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, input CreateUserInput) (User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error

	// PasswordHistory returns up to PasswordHistoryLimit previous hashes,
	// most recent first. AppendPasswordHistory evicts the oldest entry
	// beyond the limit.
	PasswordHistory(ctx context.Context, id string) ([]string, error)
	AppendPasswordHistory(ctx context.Context, id, hash string) error
}
