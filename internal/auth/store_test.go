package auth

import (
	"errors"
	"testing"
)

func TestInMemoryUserStoreCreateAndLookup(t *testing.T) {
	store := NewInMemoryUserStore()

	u, err := store.Create("alice", "h1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("expected id 1, got %d", u.ID)
	}

	if _, err := store.Create("alice", "h2"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	got, err := store.GetByUsername("alice")
	if err != nil {
		t.Fatalf("GetByUsername() error: %v", err)
	}
	if got.PasswordHash != "h1" {
		t.Fatalf("expected original hash to be kept, got %q", got.PasswordHash)
	}

	ok, _ := store.Exists("alice")
	if !ok {
		t.Fatalf("expected alice to exist")
	}
	ok, _ = store.Exists("bob")
	if ok {
		t.Fatalf("expected bob to be absent")
	}
	if _, err := store.GetByUsername("bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
