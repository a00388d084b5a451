// Package client wires the session and sync controllers into the single
// object a view talks to.
package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/client/feed"
	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/client/session"
	"github.com/seckatie/marksync/internal/client/store"
	"github.com/seckatie/marksync/internal/client/syncer"
	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/metrics"
)

type Deps struct {
	Provider identity.Provider
	Store    store.Store
	Feed     feed.Subscriber
	Session  session.Config
	Metrics  metrics.SyncRecorder
	Logger   zerolog.Logger
}

// Context is the view boundary. Create one with New, call Init once and
// Dispose when done.
type Context struct {
	session *session.Controller
	sync    *syncer.Controller
	log     zerolog.Logger

	unregister  func()
	disposeOnce sync.Once
}

func New(deps Deps) *Context {
	c := &Context{
		session: session.NewController(deps.Provider, deps.Session, deps.Logger),
		sync:    syncer.NewController(deps.Store, deps.Feed, deps.Metrics, deps.Logger),
		log:     deps.Logger,
	}
	c.unregister = c.session.OnChange(func(state session.State, _ *api.User) {
		if state != session.Authenticated {
			c.sync.Teardown()
		}
	})
	return c
}

// Init resolves the session and, when signed in, starts syncing.
func (c *Context) Init(ctx context.Context) error {
	c.session.Resolve(ctx)
	return c.startSync(ctx)
}

// Refresh re-checks the session, for example after a login finished in the
// browser.
func (c *Context) Refresh(ctx context.Context) error {
	c.session.Refresh(ctx)
	return c.startSync(ctx)
}

func (c *Context) startSync(ctx context.Context) error {
	user := c.session.User()
	if c.session.State() != session.Authenticated || user == nil {
		return nil
	}
	return c.sync.OnAuthenticated(ctx, *user)
}

// Dispose stops syncing and detaches from the session. Safe to call more
// than once.
func (c *Context) Dispose() {
	c.disposeOnce.Do(func() {
		c.unregister()
		c.sync.Teardown()
		c.log.Debug().Msg("client disposed")
	})
}

func (c *Context) SessionState() session.State { return c.session.State() }
func (c *Context) User() *api.User             { return c.session.User() }

// SessionErr is the cause of the last failed session check, if any.
func (c *Context) SessionErr() error { return c.session.Err() }

// FeedErr is non-nil while live updates are down and being retried.
func (c *Context) FeedErr() error { return c.sync.FeedErr() }

func (c *Context) Bookmarks() []api.Bookmark            { return c.sync.Bookmarks() }
func (c *Context) ValidationErrors() map[string]string { return c.sync.ValidationErrors() }
func (c *Context) Changes() <-chan struct{}            { return c.sync.Changes() }

// Login returns the URL that starts the OAuth flow.
func (c *Context) Login(ctx context.Context) (string, error) {
	return c.session.Login(ctx)
}

// Logout signs out and stops syncing, even if the provider call fails.
func (c *Context) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

func (c *Context) AddBookmark(ctx context.Context, title, rawURL string) error {
	return c.sync.AddBookmark(ctx, title, rawURL)
}

func (c *Context) RemoveBookmark(ctx context.Context, id string) error {
	return c.sync.RemoveBookmark(ctx, id)
}
