package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteUserStore keeps users in a local SQLite file. Handy for single-node
// deployments that want accounts to survive a restart without Postgres.
type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(path string) (*SQLiteUserStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteUserStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteUserStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS auth_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure auth_users schema: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteUserStore) Create(username, passwordHash string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return User{}, fmt.Errorf("username and password hash are required")
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO auth_users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert auth user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("read auth user id: %w", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLiteUserStore) GetByUsername(username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUserNotFound
	}

	var u User
	const q = `SELECT id, username, password_hash, created_at FROM auth_users WHERE username = ?`
	if err := s.db.QueryRow(q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query auth user: %w", err)
	}
	return u, nil
}

func (s *SQLiteUserStore) Exists(username string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM auth_users WHERE username = ?`, strings.TrimSpace(username)).Scan(&n); err != nil {
		return false, fmt.Errorf("query auth user exists: %w", err)
	}
	return n > 0, nil
}
