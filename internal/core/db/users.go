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
// User methods
// ------------------------------

// UpsertUser returns the user linked to the given provider identity, creating
// it on first sign-in. Email and name are refreshed on every call.
func (db *DB) UpsertUser(ctx context.Context, id Identity) (User, error) {
	if id.Provider == "" || id.ProviderUserID == "" {
		return User{}, errors.New("identity requires provider and provider user id")
	}

	u, err := db.findUserByIdentity(ctx, id.Provider, id.ProviderUserID)
	switch {
	case err == nil:
		_, err := db.db.ExecContext(ctx,
			db.rebind("UPDATE users SET email = ?, name = ? WHERE id = ?"),
			id.Email, id.Name, u.ID,
		)
		if err != nil {
			return User{}, fmt.Errorf("failed to update user: %w", err)
		}
		u.Email, u.Name = id.Email, id.Name
		return u, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	u = User{
		ID:             uuid.NewString(),
		Email:          id.Email,
		Name:           id.Name,
		Provider:       id.Provider,
		ProviderUserID: id.ProviderUserID,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = db.db.ExecContext(ctx,
		db.rebind(`INSERT INTO users (id, email, name, provider, provider_user_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.Name, u.Provider, u.ProviderUserID, u.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (db *DB) GetUser(ctx context.Context, id string) (User, error) {
	return db.scanUser(db.db.QueryRowContext(ctx,
		db.rebind("SELECT id, email, name, provider, provider_user_id, created_at FROM users WHERE id = ?"),
		id,
	))
}

func (db *DB) findUserByIdentity(ctx context.Context, provider, providerUserID string) (User, error) {
	return db.scanUser(db.db.QueryRowContext(ctx,
		db.rebind(`SELECT id, email, name, provider, provider_user_id, created_at
			FROM users WHERE provider = ? AND provider_user_id = ?`),
		provider, providerUserID,
	))
}

func (db *DB) scanUser(row *sql.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Provider, &u.ProviderUserID, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
