// Package syncer keeps a local snapshot of the signed-in user's bookmarks in
// step with the record store. Every change, local or remote, is followed by
// a full re-read; the snapshot is never patched in place.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/client/feed"
	"github.com/seckatie/marksync/internal/client/store"
	"github.com/seckatie/marksync/internal/core"
	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/metrics"
)

// ErrNotAuthenticated is returned by mutations while no user is active.
var ErrNotAuthenticated = errors.New("not authenticated")

// errFeedClosed stands in when a subscription ends without saying why.
var errFeedClosed = errors.New("change feed closed")

// Mutation names reported to the metrics recorder.
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// Controller owns the bookmark snapshot for one signed-in user at a time
// and the change feed subscription that keeps it current.
type Controller struct {
	store   store.Store
	feed    feed.Subscriber
	metrics metrics.SyncRecorder
	log     zerolog.Logger
	changes chan struct{}
	backoff Backoff

	mu         sync.Mutex
	user       *api.User
	bookmarks  []api.Bookmark
	validation core.ValidationResult

	// epoch moves on every authenticate and teardown. A fetch started in an
	// older epoch is never applied.
	epoch      uint64
	nextSeq    uint64
	appliedSeq uint64

	// feedErr is why the change feed is currently down, or nil while live.
	feedErr    error
	cancel     context.CancelFunc
	followDone chan struct{}
}

// NewController returns an idle controller. rec may be nil.
func NewController(st store.Store, sub feed.Subscriber, rec metrics.SyncRecorder, log zerolog.Logger) *Controller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Controller{
		store:   st,
		feed:    sub,
		metrics: rec,
		log:     log.With().Str("component", "syncer").Logger(),
		changes: make(chan struct{}, 1),
		backoff: DefaultBackoff(),
	}
}

// SetBackoff changes the reconnect schedule. Call it before OnAuthenticated.
func (c *Controller) SetBackoff(b Backoff) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff = b
}

// OnAuthenticated loads user's bookmarks and starts following the change
// feed. It is a no-op while user is already active; a different active user
// is torn down first. The feed is opened even if the initial load fails, and
// a feed that fails to open or drops later is reopened with backoff until
// Teardown.
func (c *Controller) OnAuthenticated(ctx context.Context, user api.User) error {
	c.mu.Lock()
	if c.user != nil && c.user.ID == user.ID {
		c.mu.Unlock()
		return nil
	}
	switched := c.user != nil
	c.mu.Unlock()

	if switched {
		c.Teardown()
	}

	c.mu.Lock()
	if c.user != nil {
		// Lost a race with a concurrent OnAuthenticated.
		same := c.user.ID == user.ID
		c.mu.Unlock()
		if same {
			return nil
		}
		return errors.New("another user became active during sign-in")
	}
	c.epoch++
	epoch := c.epoch
	u := user
	c.user = &u
	c.mu.Unlock()

	log := c.log.With().Str("user_id", user.ID).Logger()
	log.Info().Msg("sync started")

	fetchErr := c.refetch(ctx)

	var subErr error
	sub, err := c.feed.Subscribe(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open change feed, will retry")
		subErr = fmt.Errorf("failed to open change feed: %w", err)
		sub = nil
	}

	followCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		return errors.Join(fetchErr, subErr)
	}
	c.cancel = cancel
	c.followDone = done
	c.feedErr = subErr
	backoff := c.backoff
	c.mu.Unlock()

	go c.follow(followCtx, epoch, sub, backoff, done)
	return errors.Join(fetchErr, subErr)
}

// follow owns the subscription for one epoch. When the feed is down it
// reopens it with backoff and re-reads the collection, since changes made in
// the gap were never announced.
func (c *Controller) follow(ctx context.Context, epoch uint64, sub feed.Subscription, backoff Backoff, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		if sub != nil {
			attempt = 0
			err := c.consume(ctx, sub)
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			c.setFeedErr(epoch, err)
		}

		delay := backoff.Delay(attempt)
		attempt++
		c.log.Debug().Dur("retry_in", delay).Int("attempt", attempt).Msg("reopening change feed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		next, err := c.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("failed to reopen change feed")
			c.setFeedErr(epoch, fmt.Errorf("failed to open change feed: %w", err))
			sub = nil
			continue
		}

		sub = next
		c.setFeedErr(epoch, nil)
		c.log.Info().Msg("change feed reconnected")
		_ = c.refetch(ctx)
	}
}

// consume re-reads the collection after feed events until the subscription
// ends or ctx is cancelled. Events that pile up while a fetch is running
// collapse into the next fetch. It returns why the stream ended.
func (c *Controller) consume(ctx context.Context, sub feed.Subscription) error {
	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return c.feedEnded(sub)
			}
			c.metrics.RecordFeedEvent()

			open := c.drain(events)
			_ = c.refetch(ctx)
			if !open {
				return c.feedEnded(sub)
			}
		}
	}
}

// drain discards queued events and reports whether the channel is still open.
func (c *Controller) drain(events <-chan feed.Event) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
			c.metrics.RecordFeedEvent()
		default:
			return true
		}
	}
}

func (c *Controller) feedEnded(sub feed.Subscription) error {
	err := sub.Err()
	if err == nil {
		err = errFeedClosed
	}
	c.log.Warn().Err(err).Msg("change feed stopped, reconnecting")
	return err
}

// setFeedErr records the feed state for epoch and tells the view.
func (c *Controller) setFeedErr(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.feedErr = err
	c.mu.Unlock()
	c.changed()
}

// refetch replaces the snapshot with a fresh read unless a newer fetch has
// already been applied or the session changed while it was in flight. A
// failed read leaves the snapshot untouched.
func (c *Controller) refetch(ctx context.Context) error {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.nextSeq++
	seq, epoch := c.nextSeq, c.epoch
	c.mu.Unlock()

	list, err := c.store.ListBookmarks(ctx)
	if err != nil {
		c.metrics.RecordFetch(metrics.FetchFailed)
		if ctx.Err() != nil {
			c.log.Debug().Err(err).Uint64("seq", seq).Msg("bookmark refresh cancelled")
		} else {
			c.log.Warn().Err(err).Uint64("seq", seq).Msg("failed to refresh bookmarks")
		}
		return fmt.Errorf("failed to refresh bookmarks: %w", err)
	}

	c.mu.Lock()
	if epoch != c.epoch || seq < c.appliedSeq {
		c.mu.Unlock()
		c.metrics.RecordFetch(metrics.FetchStale)
		c.log.Debug().Uint64("seq", seq).Msg("discarding stale bookmark list")
		return nil
	}
	c.appliedSeq = seq
	c.bookmarks = list
	c.mu.Unlock()

	c.metrics.RecordFetch(metrics.FetchApplied)
	c.changed()
	return nil
}

// AddBookmark validates the input and, when valid, stores the trimmed values
// and re-reads the collection. Invalid input is recorded for the view and
// returned as a *core.ValidationError without touching the store.
func (c *Controller) AddBookmark(ctx context.Context, title, rawURL string) error {
	if !c.Active() {
		return ErrNotAuthenticated
	}

	result := core.Validate(title, rawURL)
	c.mu.Lock()
	hadErrors := !c.validation.Valid()
	if result.Valid() {
		c.validation = nil
	} else {
		c.validation = result
	}
	c.mu.Unlock()

	if !result.Valid() {
		c.changed()
		return result.Err()
	}
	if hadErrors {
		c.changed()
	}

	b, err := c.store.InsertBookmark(ctx, strings.TrimSpace(title), strings.TrimSpace(rawURL))
	c.metrics.RecordMutation(OpAdd, err)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to add bookmark")
		return fmt.Errorf("failed to add bookmark: %w", err)
	}
	c.log.Debug().Str("bookmark_id", b.ID).Msg("bookmark added")

	_ = c.refetch(ctx)
	return nil
}

// RemoveBookmark deletes id and re-reads the collection. Removing an id that
// does not exist is not an error.
func (c *Controller) RemoveBookmark(ctx context.Context, id string) error {
	if !c.Active() {
		return ErrNotAuthenticated
	}

	err := c.store.DeleteBookmark(ctx, id)
	c.metrics.RecordMutation(OpRemove, err)
	if err != nil {
		c.log.Error().Err(err).Str("bookmark_id", id).Msg("failed to remove bookmark")
		return fmt.Errorf("failed to remove bookmark: %w", err)
	}

	_ = c.refetch(ctx)
	return nil
}

// Teardown closes the feed subscription, waits for its consumer to stop and
// clears all cached state. In-flight fetches finish but are discarded.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.epoch++
	wasActive := c.user != nil
	cancel, done := c.cancel, c.followDone
	c.cancel, c.followDone = nil, nil
	c.user = nil
	c.bookmarks = nil
	c.validation = nil
	c.feedErr = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if wasActive {
		c.log.Info().Msg("sync stopped")
		c.changed()
	}
}

// Bookmarks returns a copy of the snapshot, newest first.
func (c *Controller) Bookmarks() []api.Bookmark {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Bookmark, len(c.bookmarks))
	copy(out, c.bookmarks)
	return out
}

// ValidationErrors returns field -> message for the last rejected add, or nil.
func (c *Controller) ValidationErrors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validation.Messages()
}

// FeedErr reports why live updates are currently down, or nil while the
// change feed is connected (or no user is active).
func (c *Controller) FeedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedErr
}

// Changes fires after the snapshot, the validation errors or the feed state
// change. Bursts collapse into one notification.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// User returns a copy of the active user, or nil.
func (c *Controller) User() *api.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil
}

func (c *Controller) changed() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
