package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ------------------------------
// Session methods
// ------------------------------

// CreateSession starts a server-side session for userID that expires after ttl.
func (db *DB) CreateSession(ctx context.Context, userID string, ttl time.Duration) (Session, error) {
	now := time.Now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err := db.db.ExecContext(ctx,
		db.rebind("INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)"),
		s.ID, s.UserID, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// FindSession returns a live session. Expired and unknown sessions both
// report ErrNotFound.
func (db *DB) FindSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := db.db.QueryRowContext(ctx,
		db.rebind("SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = ?"),
		id,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("session: %w", ErrNotFound)
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if !s.ExpiresAt.After(time.Now()) {
		return Session{}, fmt.Errorf("session expired: %w", ErrNotFound)
	}
	s.ExpiresAt, s.CreatedAt = s.ExpiresAt.UTC(), s.CreatedAt.UTC()
	return s, nil
}

// DeleteSession revokes a session. Unknown sessions are ignored.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.db.ExecContext(ctx, db.rebind("DELETE FROM sessions WHERE id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session past its expiry and reports
// how many were dropped.
func (db *DB) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		db.rebind("DELETE FROM sessions WHERE expires_at <= ?"),
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to determine rows affected: %w", err)
	}
	return n, nil
}
