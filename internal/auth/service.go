package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrValidation         = errors.New("username and password are required")
	ErrPasswordTooLong    = fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordBytes)
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

type Service struct {
	users    UserStore
	sessions SessionStore
	ttl      time.Duration
	cost     int
	nowFunc  func() time.Time
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
	// SessionStore defaults to an in-memory store.
	SessionStore SessionStore
}

func NewService(userStore UserStore, cfg ServiceConfig) (*Service, error) {
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	sessions := cfg.SessionStore
	if sessions == nil {
		sessions = NewInMemorySessionStore()
	}

	return &Service{
		users:    userStore,
		sessions: sessions,
		ttl:      cfg.SessionTTL,
		cost:     cost,
		nowFunc:  time.Now,
	}, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (s *Service) VerifyPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// Signup registers a new user. The store decides uniqueness; the Exists
// pre-check only spares a bcrypt round for the common duplicate case.
func (s *Service) Signup(username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, ErrValidation
	}
	if len(password) > maxPasswordBytes {
		return User{}, ErrPasswordTooLong
	}

	exists, err := s.users.Exists(username)
	if err != nil {
		return User{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return User{}, ErrUserExists
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.Create(username, hash)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Service) Login(username, password string) (Session, error) {
	u, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if !s.VerifyPassword(password, u.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	token, err := generateToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.nowFunc()
	session := Session{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    u.ID,
		Username:  u.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.sessions.Save(session); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (s *Service) ValidateToken(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}

	session, err := s.sessions.Get(token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	if s.nowFunc().After(session.ExpiresAt) {
		_ = s.sessions.Delete(token)
		return Session{}, ErrInvalidToken
	}
	return session, nil
}

func (s *Service) Logout(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.sessions.Delete(token); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneExpired drops expired sessions and returns how many were removed.
func (s *Service) PruneExpired() (int, error) {
	n, err := s.sessions.DeleteExpired(s.nowFunc())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return n, nil
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
