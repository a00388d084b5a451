package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// ------------------------------
// Bookmark methods
// ------------------------------

func (db *DB) GetBookmark(ctx context.Context, userID, id string) (Bookmark, error) {
	var b Bookmark
	err := db.db.QueryRowContext(ctx,
		db.rebind("SELECT id, user_id, title, url, created_at FROM bookmarks WHERE id = ? AND user_id = ?"),
		id, userID,
	).Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bookmark{}, fmt.Errorf("bookmark %s: %w", id, ErrNotFound)
		}
		return Bookmark{}, fmt.Errorf("failed to get bookmark: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// AddBookmark inserts a bookmark owned by userID and returns the stored row.
// Title and URL are expected to be validated by the caller.
// Emits a BookmarkCreatedEvent after successful insert.
func (db *DB) AddBookmark(ctx context.Context, userID, title, url string) (Bookmark, error) {
	b := Bookmark{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     title,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.db.ExecContext(ctx,
		db.rebind("INSERT INTO bookmarks (id, user_id, title, url, created_at) VALUES (?, ?, ?, ?, ?)"),
		b.ID, b.UserID, b.Title, b.URL, b.CreatedAt,
	)
	if err != nil {
		return Bookmark{}, fmt.Errorf("failed to add bookmark: %w", err)
	}

	db.emit(BookmarkCreatedEvent{Bookmark: b, At: time.Now().UTC()})

	return b, nil
}

// ListBookmarks returns userID's bookmarks, newest first. A limit <= 0 means
// no limit.
func (db *DB) ListBookmarks(ctx context.Context, userID string, limit int) ([]Bookmark, error) {
	query := `
		SELECT id, user_id, title, url, created_at
		FROM bookmarks
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close rows")
		}
	}()

	out := []Bookmark{}
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}
	return out, nil
}

// DeleteBookmark removes one of userID's bookmarks. Deleting a bookmark that
// does not exist, or that belongs to someone else, is not an error.
// Emits a BookmarkDeletedEvent only when a row was removed.
func (db *DB) DeleteBookmark(ctx context.Context, userID, id string) error {
	res, err := db.db.ExecContext(ctx,
		db.rebind("DELETE FROM bookmarks WHERE id = ? AND user_id = ?"),
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if affected == 0 {
		return nil
	}

	db.emit(BookmarkDeletedEvent{
		Bookmark: Bookmark{ID: id, UserID: userID},
		At:       time.Now().UTC(),
	})

	return nil
}
