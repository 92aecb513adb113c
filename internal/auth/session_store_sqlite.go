package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteSessionStore shares the user store's database file. Timestamps are
// stored as Unix nanoseconds so expiry comparisons stay numeric.
type SQLiteSessionStore struct {
	db *sql.DB
}

// Sessions opens a session store on the same database as s. Closing s
// closes it too.
func (s *SQLiteUserStore) Sessions() (*SQLiteSessionStore, error) {
	const q = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	token TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL,
	username TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return nil, fmt.Errorf("ensure auth_sessions schema: %w", err)
	}
	return &SQLiteSessionStore{db: s.db}, nil
}

func (s *SQLiteSessionStore) Save(sess Session) error {
	const q = `
INSERT INTO auth_sessions (token, session_id, user_id, username, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(q, sess.Token, sess.ID, sess.UserID, sess.Username,
		sess.CreatedAt.UnixNano(), sess.ExpiresAt.UnixNano()); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Get(token string) (Session, error) {
	const q = `SELECT session_id, user_id, username, created_at, expires_at FROM auth_sessions WHERE token = ?`
	sess := Session{Token: token}
	var created, expires int64
	if err := s.db.QueryRow(q, token).Scan(&sess.ID, &sess.UserID, &sess.Username, &created, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.ExpiresAt = time.Unix(0, expires).UTC()
	return sess, nil
}

func (s *SQLiteSessionStore) Delete(token string) error {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	} else if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) DeleteExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired session rows: %w", err)
	}
	return int(n), nil
}
