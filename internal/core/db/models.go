package db

import "time"

type User struct {
	ID             string
	Email          string
	Name           string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Identity is what an external identity provider reports about a user.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Bookmark struct {
	// ID is a ULID, so lexical order follows creation order.
	ID        string
	UserID    string
	Title     string
	URL       string
	CreatedAt time.Time
}
