package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seckatie/marksync/internal/core/api"
)

// newAuthStub accepts only "good-token" and records logouts.
func newAuthStub(t *testing.T, logouts *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathUser, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			json.NewEncoder(w).Encode(api.User{ID: "u-1", Email: "alice@example.com"})
		case "Bearer broken-server":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	mux.HandleFunc(api.PathLogout, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		*logouts++
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_GetCurrentSession(t *testing.T) {
	var logouts int
	srv := newAuthStub(t, &logouts)
	ctx := context.Background()

	t.Run("no token means signed out", func(t *testing.T) {
		p := NewHTTPProvider(srv.URL, NewMemoryTokenStore(""), srv.Client(), zerolog.Nop())
		u, err := p.GetCurrentSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("valid token", func(t *testing.T) {
		p := NewHTTPProvider(srv.URL+"/", NewMemoryTokenStore("good-token"), srv.Client(), zerolog.Nop())
		u, err := p.GetCurrentSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "u-1", u.ID)
	})

	t.Run("rejected token is cleared", func(t *testing.T) {
		tokens := NewMemoryTokenStore("revoked")
		p := NewHTTPProvider(srv.URL, tokens, srv.Client(), zerolog.Nop())
		u, err := p.GetCurrentSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, u)

		left, _ := tokens.Load()
		assert.Empty(t, left)
	})

	t.Run("server failure is an error", func(t *testing.T) {
		tokens := NewMemoryTokenStore("broken-server")
		p := NewHTTPProvider(srv.URL, tokens, srv.Client(), zerolog.Nop())
		_, err := p.GetCurrentSession(ctx)
		assert.Error(t, err)

		left, _ := tokens.Load()
		assert.Equal(t, "broken-server", left, "token must survive a transient failure")
	})

	t.Run("unreachable server is an error", func(t *testing.T) {
		p := NewHTTPProvider("http://127.0.0.1:1", NewMemoryTokenStore("good-token"), nil, zerolog.Nop())
		_, err := p.GetCurrentSession(ctx)
		assert.Error(t, err)
	})
}

func TestHTTPProvider_SignInWithOAuth(t *testing.T) {
	p := NewHTTPProvider("https://marksync.example/", NewMemoryTokenStore(""), nil, zerolog.Nop())

	raw, err := p.SignInWithOAuth(context.Background(), SignInOptions{
		Provider:    "google",
		RedirectTo:  "http://127.0.0.1:4000/callback",
		QueryParams: map[string]string{"prompt": "select_account"},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "marksync.example", u.Host)
	assert.Equal(t, api.PathAuthorize, u.Path)
	assert.Equal(t, "google", u.Query().Get("provider"))
	assert.Equal(t, "http://127.0.0.1:4000/callback", u.Query().Get("redirect_to"))
	assert.Equal(t, "select_account", u.Query().Get("prompt"))

	_, err = p.SignInWithOAuth(context.Background(), SignInOptions{})
	assert.Error(t, err)
}

func TestHTTPProvider_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes and clears", func(t *testing.T) {
		var logouts int
		srv := newAuthStub(t, &logouts)
		tokens := NewMemoryTokenStore("good-token")
		p := NewHTTPProvider(srv.URL, tokens, srv.Client(), zerolog.Nop())

		require.NoError(t, p.SignOut(ctx))
		assert.Equal(t, 1, logouts)
		left, _ := tokens.Load()
		assert.Empty(t, left)
	})

	t.Run("already revoked is fine", func(t *testing.T) {
		var logouts int
		srv := newAuthStub(t, &logouts)
		p := NewHTTPProvider(srv.URL, NewMemoryTokenStore("stale"), srv.Client(), zerolog.Nop())
		assert.NoError(t, p.SignOut(ctx))
	})

	t.Run("no token skips the server", func(t *testing.T) {
		var logouts int
		srv := newAuthStub(t, &logouts)
		p := NewHTTPProvider(srv.URL, NewMemoryTokenStore(""), srv.Client(), zerolog.Nop())
		require.NoError(t, p.SignOut(ctx))
		assert.Zero(t, logouts)
	})

	t.Run("failure still clears the token", func(t *testing.T) {
		tokens := NewMemoryTokenStore("good-token")
		p := NewHTTPProvider("http://127.0.0.1:1", tokens, nil, zerolog.Nop())
		assert.Error(t, p.SignOut(ctx))
		left, _ := tokens.Load()
		assert.Empty(t, left)
	})
}
