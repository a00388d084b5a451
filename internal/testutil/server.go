// Package testutil starts a real store server backed by in-memory SQLite for
// client-side tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seckatie/marksync/internal/core/db"
	"github.com/seckatie/marksync/internal/core/web"
)

const jwtSecret = "testutil-secret"

type StoreServer struct {
	URL string
	DB  *db.DB

	tokens *web.TokenIssuer
}

// StartStoreServer runs a store server until the test ends.
func StartStoreServer(t testing.TB) *StoreServer {
	t.Helper()

	database, err := db.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate())

	ws, err := web.NewServer(database, web.Options{
		PublicURL:  "http://marksync.test",
		JWTSecret:  jwtSecret,
		SessionTTL: time.Hour,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(ws.Handler())
	t.Cleanup(func() {
		ws.Close()
		srv.Close()
		database.Close()
	})

	return &StoreServer{
		URL:    srv.URL,
		DB:     database,
		tokens: web.NewTokenIssuer(jwtSecret),
	}
}

// SignIn creates (or reuses) the user for subject, opens a fresh session and
// returns its access token.
func (s *StoreServer) SignIn(t testing.TB, subject string) (string, db.User) {
	t.Helper()
	ctx := context.Background()

	u, err := s.DB.UpsertUser(ctx, db.Identity{
		Provider:       web.ProviderGoogle,
		ProviderUserID: subject,
		Email:          subject + "@example.com",
		Name:           subject,
	})
	require.NoError(t, err)

	session, err := s.DB.CreateSession(ctx, u.ID, time.Hour)
	require.NoError(t, err)

	token, err := s.tokens.IssueAccessToken(session, u)
	require.NoError(t, err)
	return token, u
}
