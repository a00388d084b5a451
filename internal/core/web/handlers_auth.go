package web

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/core/db"
)

// reservedAuthParams are consumed by the server and never forwarded to the
// identity provider.
var reservedAuthParams = map[string]bool{
	"provider":      true,
	"redirect_to":   true,
	"state":         true,
	"client_id":     true,
	"redirect_uri":  true,
	"response_type": true,
	"scope":         true,
}

// handleAuthorize starts an OAuth sign-in:
// GET /auth/v1/authorize?provider=google&redirect_to=...&prompt=...
func (ws *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	name := q.Get("provider")
	provider, ok := ws.providers[name]
	if !ok {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, fmt.Sprintf("unsupported provider %q", name))
		return
	}

	redirectTo := q.Get("redirect_to")
	if redirectTo == "" {
		redirectTo = ws.publicURL.String()
	}
	if err := ws.checkRedirect(redirectTo); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}

	state, err := ws.tokens.IssueState(name, redirectTo)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue oauth state")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	params := make(map[string]string)
	for k := range q {
		if !reservedAuthParams[k] {
			params[k] = q.Get(k)
		}
	}

	http.Redirect(w, r, provider.AuthCodeURL(state, params), http.StatusFound)
}

// handleCallback completes sign-in and hands the access token to redirect_to.
func (ws *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logger := zerolog.Ctx(r.Context())

	if e := q.Get("error"); e != "" {
		logger.Warn().Str("error", e).Msg("provider denied authorization")
		writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "authorization denied: "+e)
		return
	}

	state, err := ws.tokens.ParseState(q.Get("state"))
	if err != nil {
		logger.Warn().Err(err).Msg("oauth state rejected")
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid state parameter")
		return
	}
	provider, ok := ws.providers[state.Provider]
	if !ok {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid state parameter")
		return
	}

	identity, err := provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		logger.Warn().Err(err).Str("provider", state.Provider).Msg("oauth exchange failed")
		writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "sign-in failed")
		return
	}

	user, err := ws.db.UpsertUser(r.Context(), identity)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upsert user")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	session, err := ws.db.CreateSession(r.Context(), user.ID, ws.sessionTTL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	token, err := ws.tokens.IssueAccessToken(session, user)
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue access token")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	target, err := url.Parse(state.RedirectTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid redirect target")
		return
	}
	tq := target.Query()
	tq.Set(api.AccessTokenParam, token)
	target.RawQuery = tq.Encode()

	logger.Info().Str("user_id", user.ID).Msg("user signed in")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (ws *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	u, err := ws.db.GetUser(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "user no longer exists")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load user")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, api.User{ID: u.ID, Email: u.Email, Name: u.Name})
}

// handleLogout revokes the session behind the caller's token.
func (ws *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	if err := ws.db.DeleteSession(r.Context(), p.SessionID); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to delete session")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkRedirect allows the server's own origin and loopback addresses, which
// is where the command-line client listens for the token.
func (ws *Server) checkRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.New("redirect_to must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("redirect_to must use http or https")
	}
	if strings.EqualFold(u.Host, ws.publicURL.Host) {
		return nil
	}

	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("redirect_to host %q is not allowed", u.Host)
}
