// Package session tracks whether the current user is signed in.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/core/api"
)

// State is the authentication state of the client.
type State int

const (
	Unresolved State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config selects the OAuth provider and where it sends the browser back to.
type Config struct {
	Provider    string
	RedirectTo  string
	QueryParams map[string]string
}

// DefaultConfig signs in with Google and always shows the account chooser.
func DefaultConfig(redirectTo string) Config {
	return Config{
		Provider:    "google",
		RedirectTo:  redirectTo,
		QueryParams: map[string]string{"prompt": "select_account"},
	}
}

// Listener is called synchronously after every state transition.
type Listener func(state State, user *api.User)

// Controller owns the session state machine. It is safe for concurrent use.
type Controller struct {
	provider identity.Provider
	cfg      Config
	log      zerolog.Logger

	resolveOnce sync.Once

	mu        sync.Mutex
	state     State
	user      *api.User
	err       error
	resolved  bool
	// gen moves on every Logout; a Refresh that started earlier is dropped.
	gen       uint64
	nextID    int
	listeners map[int]Listener
}

// NewController returns a controller in the Unresolved state. Nothing talks
// to the provider until Resolve, Refresh or Login is called.
func NewController(provider identity.Provider, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		provider:  provider,
		cfg:       cfg,
		log:       log.With().Str("component", "session").Logger(),
		listeners: make(map[int]Listener),
	}
}

// Resolve asks the provider for an existing session. Only the first call
// queries the provider; later calls return the settled state.
func (c *Controller) Resolve(ctx context.Context) State {
	c.resolveOnce.Do(func() {
		c.mu.Lock()
		resolved := c.resolved
		c.mu.Unlock()
		if !resolved {
			c.Refresh(ctx)
		}
	})
	return c.State()
}

// Refresh re-queries the provider, for example after a login completed
// out of process. A provider failure counts as signed out; the cause is kept
// in Err.
func (c *Controller) Refresh(ctx context.Context) State {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	user, err := c.provider.GetCurrentSession(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("session check failed, treating as signed out")
		user = nil
	}

	c.mu.Lock()
	if c.gen != gen {
		state := c.state
		c.mu.Unlock()
		c.log.Debug().Msg("discarding session check that raced a logout")
		return state
	}
	c.resolved = true
	c.err = err
	if user != nil {
		c.state = Authenticated
		u := *user
		c.user = &u
	} else {
		c.state = Unauthenticated
		c.user = nil
	}
	state, snapshot := c.state, c.copyUser()
	c.mu.Unlock()

	c.notify(state, snapshot)
	return state
}

// Login starts the OAuth redirect flow and returns the URL to open.
func (c *Controller) Login(ctx context.Context) (string, error) {
	params := make(map[string]string, len(c.cfg.QueryParams))
	for k, v := range c.cfg.QueryParams {
		params[k] = v
	}

	u, err := c.provider.SignInWithOAuth(ctx, identity.SignInOptions{
		Provider:    c.cfg.Provider,
		RedirectTo:  c.cfg.RedirectTo,
		QueryParams: params,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start sign-in: %w", err)
	}
	return u, nil
}

// Logout ends the provider session and moves to Unauthenticated even when
// the provider call fails.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.provider.SignOut(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("sign-out failed")
		err = fmt.Errorf("failed to sign out: %w", err)
	}

	c.mu.Lock()
	c.gen++
	c.resolved = true
	c.state = Unauthenticated
	c.user = nil
	c.err = nil
	c.mu.Unlock()

	c.notify(Unauthenticated, nil)
	return err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns a copy of the signed-in user, or nil.
func (c *Controller) User() *api.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyUser()
}

// Err is the provider error from the last session check, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnChange registers l and returns a func that removes it.
func (c *Controller) OnChange(l Listener) (unregister func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) copyUser() *api.User {
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// notify must be called without c.mu held.
func (c *Controller) notify(state State, user *api.User) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, c.listeners[id])
	}
	c.mu.Unlock()

	for _, l := range ls {
		var u *api.User
		if user != nil {
			cp := *user
			u = &cp
		}
		l(state, u)
	}
}
