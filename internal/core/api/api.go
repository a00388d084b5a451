// Package api holds the JSON shapes and routes shared by the store server and its clients.
package api

import "time"

// Routes served by the store server.
const (
	PathAuthorize = "/auth/v1/authorize"
	PathCallback  = "/auth/v1/callback"
	PathUser      = "/auth/v1/user"
	PathLogout    = "/auth/v1/logout"
	PathBookmarks = "/rest/v1/bookmarks"
	PathRealtime  = "/realtime/v1/websocket"
	PathMetrics   = "/metrics"
)

// Realtime filter values for the bookmarks table.
const (
	TopicBookmarks = "bookmarks-changes"
	SchemaPublic   = "public"
	TableBookmarks = "bookmarks"
	EventAll       = "*"
	EventInsert    = "INSERT"
	EventUpdate    = "UPDATE"
	EventDelete    = "DELETE"
)

// Realtime message types.
const (
	MessageSubscribe   = "subscribe"
	MessageSubscribed  = "subscribed"
	MessageUnsubscribe = "unsubscribe"
	MessageChange      = "change"
	MessageError       = "error"
)

// AccessTokenParam is the query parameter carrying the access token on the
// post-login redirect.
const AccessTokenParam = "access_token"

// User is the identity exposed by /auth/v1/user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Bookmark is a stored bookmark record.
type Bookmark struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBookmark is the insert payload; the store assigns id, user_id and created_at.
type NewBookmark struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message is a realtime frame in either direction.
type Message struct {
	Type            string    `json:"type"`
	Topic           string    `json:"topic,omitempty"`
	Schema          string    `json:"schema,omitempty"`
	Table           string    `json:"table,omitempty"`
	Event           string    `json:"event,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// ErrorResponse is the JSON error body returned by the store server.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Error codes used in ErrorResponse.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeValidation   = "VALIDATION_FAILED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL"
	CodeBadRequest   = "BAD_REQUEST"
)
