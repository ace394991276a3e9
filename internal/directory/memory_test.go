package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMemoryCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	user, err := dir.Create(ctx, CreateUserInput{
		Username:     "Alice",
		Email:        "Alice@Example.com",
		PasswordHash: "hash-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected generated id")
	}

	// lookups are case-insensitive on username and email
	got, err := dir.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("GetByUsername: want %s got %s", user.ID, got.ID)
	}

	got, err = dir.GetByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("GetByEmail: want %s got %s", user.ID, got.ID)
	}

	if _, err := dir.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID missing: want ErrNotFound, got %v", err)
	}
}

func TestMemoryDuplicates(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	if _, err := dir.Create(ctx, CreateUserInput{Username: "bob", Email: "bob@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := dir.Create(ctx, CreateUserInput{Username: "BOB", Email: "other@example.com", PasswordHash: "h"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username: want ErrDuplicate, got %v", err)
	}
	if _, err := dir.Create(ctx, CreateUserInput{Username: "carol", Email: "bob@example.com", PasswordHash: "h"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email: want ErrDuplicate, got %v", err)
	}
}

func TestMemoryPasswordHistory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	user, err := dir.Create(ctx, CreateUserInput{Username: "dan", Email: "dan@example.com", PasswordHash: "h0"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < PasswordHistoryLimit+2; i++ {
		if err := dir.AppendPasswordHistory(ctx, user.ID, fmt.Sprintf("h%d", i)); err != nil {
			t.Fatalf("AppendPasswordHistory: %v", err)
		}
	}

	history, err := dir.PasswordHistory(ctx, user.ID)
	if err != nil {
		t.Fatalf("PasswordHistory: %v", err)
	}
	if len(history) != PasswordHistoryLimit {
		t.Fatalf("history length: want %d got %d", PasswordHistoryLimit, len(history))
	}
	// newest first
	if history[0] != fmt.Sprintf("h%d", PasswordHistoryLimit+1) {
		t.Fatalf("expected newest entry first, got %s", history[0])
	}
}

func TestMemoryUpdates(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	user, err := dir.Create(ctx, CreateUserInput{Username: "eve", Email: "eve@example.com", PasswordHash: "old"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := dir.UpdatePasswordHash(ctx, user.ID, "new"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	if err := dir.MarkEmailVerified(ctx, user.ID); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}

	got, _ := dir.GetByID(ctx, user.ID)
	if got.PasswordHash != "new" || !got.EmailVerified {
		t.Fatalf("updates not applied: %+v", got)
	}

	if err := dir.UpdatePasswordHash(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
