package auth

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// UserStore is the identity backend. Create must reject an existing
// username with ErrUserExists and leave the stored user untouched.
type UserStore interface {
	Create(username, passwordHash string) (User, error)
	GetByUsername(username string) (User, error)
	Exists(username string) (bool, error)
}

type InMemoryUserStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]User)}
}

func (s *InMemoryUserStore) Create(username, passwordHash string) (User, error) {
	username = strings.TrimSpace(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return User{}, ErrUserExists
	}
	s.nextID++
	u := User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[username] = u
	return u, nil
}

func (s *InMemoryUserStore) GetByUsername(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.TrimSpace(username)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryUserStore) Exists(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[strings.TrimSpace(username)]
	return ok, nil
}
