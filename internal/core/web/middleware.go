package web

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/core/db"
)

type principalKey struct{}

// principal is the authenticated caller of a request.
type principal struct {
	UserID    string
	SessionID string
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// requestLogger puts a request-scoped logger in the context and writes one
// access log line per request.
func (ws *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		l := ws.log.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()
		r = r.WithContext(l.WithContext(r.Context()))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logger := zerolog.Ctx(r.Context())
		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
			Msg("http_request")
	})
}

// instrument records request counts and latency by route pattern.
func (ws *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ws.metrics.RecordHTTPRequest(route, status, time.Since(start))
	})
}

// recoverer turns a handler panic into a 500 response.
func (ws *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ws.log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate requires a valid bearer token whose session is still live.
func (ws *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := ws.tokens.ParseAccessToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid access token")
			return
		}

		session, err := ws.db.FindSession(r.Context(), claims.SessionID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "session expired or revoked")
				return
			}
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load session")
			writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
			return
		}
		if session.UserID != claims.Subject {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid access token")
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", session.UserID)
		})

		ctx := withPrincipal(r.Context(), principal{UserID: session.UserID, SessionID: session.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
