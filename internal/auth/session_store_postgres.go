package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresSessionStore keeps one row per session in auth_sessions, keyed by
// the cookie token.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresSessionStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionStore) ensureSchema() error {
	const table = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	token TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	user_id BIGINT NOT NULL,
	username TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.Exec(table); err != nil {
		return fmt.Errorf("ensure auth_sessions schema: %w", err)
	}
	const index = `CREATE INDEX IF NOT EXISTS auth_sessions_expires_at_idx ON auth_sessions (expires_at)`
	if _, err := s.db.Exec(index); err != nil {
		return fmt.Errorf("ensure auth_sessions expiry index: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Save(sess Session) error {
	const q = `
INSERT INTO auth_sessions (token, session_id, user_id, username, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.Exec(q, sess.Token, sess.ID, sess.UserID, sess.Username, sess.CreatedAt, sess.ExpiresAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Get(token string) (Session, error) {
	const q = `
SELECT session_id, user_id, username, created_at, expires_at
FROM auth_sessions
WHERE token = $1`
	sess := Session{Token: token}
	err := s.db.QueryRow(q, token).Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Delete(token string) error {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresSessionStore) DeleteExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired session rows: %w", err)
	}
	return int(n), nil
}
