package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory UserDirectory used by tests and the development
// entrypoint. Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
	byEmail    map[string]string
	history    map[string][]string
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		history:    make(map[string][]string),
	}
}

func (m *Memory) GetByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) GetByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[strings.ToLower(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) Create(_ context.Context, input CreateUserInput) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usernameKey := strings.ToLower(input.Username)
	emailKey := strings.ToLower(input.Email)
	if _, exists := m.byUsername[usernameKey]; exists {
		return User{}, ErrDuplicate
	}
	if _, exists := m.byEmail[emailKey]; exists {
		return User{}, ErrDuplicate
	}

	user := User{
		ID:           uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		CreatedAt:    time.Now(),
	}
	m.byID[user.ID] = user
	m.byUsername[usernameKey] = user.ID
	m.byEmail[emailKey] = user.ID

	return user, nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = hash
	m.byID[id] = user
	return nil
}

func (m *Memory) MarkEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.EmailVerified = true
	m.byID[id] = user
	return nil
}

func (m *Memory) PasswordHistory(_ context.Context, id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.byID[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(m.history[id]))
	copy(out, m.history[id])
	return out, nil
}

func (m *Memory) AppendPasswordHistory(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}

	entries := append([]string{hash}, m.history[id]...)
	if len(entries) > PasswordHistoryLimit {
		entries = entries[:PasswordHistoryLimit]
	}
	m.history[id] = entries
	return nil
}

// SetTwoFactor enables TOTP for a user. Test/dev helper.
func (m *Memory) SetTwoFactor(id string, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return
	}
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = secret
	m.byID[id] = user
}

// SetDeleted soft-deletes a user. Test/dev helper.
func (m *Memory) SetDeleted(id string, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return
	}
	user.Deleted = deleted
	m.byID[id] = user
}
