package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/core/db"
	"github.com/seckatie/marksync/internal/metrics"
)

const (
	sessionCleanupInterval = time.Hour
	shutdownTimeout        = 10 * time.Second
)

// Options configures the store server.
type Options struct {
	// PublicURL is the externally reachable base URL of the server.
	PublicURL  string
	JWTSecret  string
	SessionTTL time.Duration
	// RateLimit is REST requests per minute per user; <= 0 disables it.
	RateLimit int

	Providers []IdentityProvider

	// Metrics defaults to a no-op recorder. /metrics is served when
	// Gatherer is set.
	Metrics  metrics.ServerRecorder
	Gatherer prometheus.Gatherer

	Logger zerolog.Logger
}

type Server struct {
	db         *db.DB
	tokens     *TokenIssuer
	providers  map[string]IdentityProvider
	publicURL  *url.URL
	sessionTTL time.Duration
	limiter    *RateLimiter
	hub        *hub
	upgrader   websocket.Upgrader
	metrics    metrics.ServerRecorder
	gatherer   prometheus.Gatherer
	log        zerolog.Logger
}

// StartServer serves the store API on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, database *db.DB, opts Options) error {
	ws, err := NewServer(database, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize web server: %w", err)
	}
	defer ws.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go ws.cleanupSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		ws.log.Info().Str("addr", addr).Str("public_url", ws.publicURL.String()).Msg("starting web server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	ws.log.Info().Msg("shutting down web server")
	// Hijacked realtime sockets are not tracked by Shutdown.
	ws.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	return nil
}

func NewServer(database *db.DB, opts Options) (*Server, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	if opts.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	public, err := url.Parse(opts.PublicURL)
	if err != nil || !public.IsAbs() {
		return nil, fmt.Errorf("invalid public URL %q", opts.PublicURL)
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	providers := make(map[string]IdentityProvider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}

	logger := opts.Logger.With().Str("component", "web").Logger()

	return &Server{
		db:         database,
		tokens:     NewTokenIssuer(opts.JWTSecret),
		providers:  providers,
		publicURL:  public,
		sessionTTL: opts.SessionTTL,
		limiter:    NewRateLimiter(opts.RateLimit),
		hub:        newHub(database, opts.Metrics, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth is a bearer header, never a cookie.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		log:      logger,
	}, nil
}

// Handler returns the full route tree.
func (ws *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(ws.recoverer)
	r.Use(ws.requestLogger)
	r.Use(ws.instrument)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Get("/authorize", ws.handleAuthorize)
		r.Get("/callback", ws.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(ws.authenticate)
			r.Get("/user", ws.handleUser)
			r.Post("/logout", ws.handleLogout)
		})
	})

	r.Route(api.PathBookmarks, func(r chi.Router) {
		r.Use(ws.authenticate)
		r.Use(ws.limiter.Middleware)

		r.Get("/", ws.listBookmarks)
		r.Post("/", ws.createBookmark)
		r.Delete("/{id}", ws.deleteBookmark)
	})

	r.With(ws.authenticate).Get(api.PathRealtime, ws.handleRealtime)

	if ws.gatherer != nil {
		r.Handle(api.PathMetrics, metrics.Handler(ws.gatherer))
	}

	return r
}

// Close stops background work and drops realtime connections.
func (ws *Server) Close() {
	ws.hub.Close()
	ws.limiter.Stop()
}

func (ws *Server) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := ws.db.DeleteExpiredSessions(ctx)
			if err != nil {
				ws.log.Warn().Err(err).Msg("failed to delete expired sessions")
				continue
			}
			if n > 0 {
				ws.log.Info().Int64("count", n).Msg("deleted expired sessions")
			}
		case <-ctx.Done():
			return
		}
	}
}
