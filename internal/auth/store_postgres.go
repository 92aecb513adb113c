package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresUserStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresUserStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS auth_users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure auth_users schema: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Create(username, passwordHash string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return User{}, fmt.Errorf("username and password hash are required")
	}

	u := User{Username: username, PasswordHash: passwordHash}
	const q = `
INSERT INTO auth_users (username, password_hash)
VALUES ($1, $2)
ON CONFLICT (username) DO NOTHING
RETURNING id, created_at`
	if err := s.db.QueryRow(q, username, passwordHash).Scan(&u.ID, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserExists
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert auth user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByUsername(username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUserNotFound
	}

	var u User
	const q = `SELECT id, username, password_hash, created_at FROM auth_users WHERE username = $1`
	if err := s.db.QueryRow(q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query auth user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) Exists(username string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM auth_users WHERE username = $1)`
	if err := s.db.QueryRow(q, strings.TrimSpace(username)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query auth user exists: %w", err)
	}
	return exists, nil
}
