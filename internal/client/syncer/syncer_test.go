package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seckatie/marksync/internal/client/fake"
	"github.com/seckatie/marksync/internal/core"
	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/metrics"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

var (
	alice = api.User{ID: "u-alice", Email: "alice@example.com"}
	bob   = api.User{ID: "u-bob", Email: "bob@example.com"}
)

type recorder struct {
	mu         sync.Mutex
	fetches    map[string]int
	feedEvents int
	mutations  map[string]int
}

func newRecorder() *recorder {
	return &recorder{fetches: map[string]int{}, mutations: map[string]int{}}
}

func (r *recorder) RecordFetch(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[outcome]++
}

func (r *recorder) RecordFeedEvent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedEvents++
}

func (r *recorder) RecordMutation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		op += "_error"
	}
	r.mutations[op]++
}

func (r *recorder) fetch(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[outcome]
}

var _ metrics.SyncRecorder = (*recorder)(nil)

type harness struct {
	store *fake.Store
	feed  *fake.Feed
	rec   *recorder
	c     *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: fake.NewStore(alice.ID),
		feed:  fake.NewFeed(),
		rec:   newRecorder(),
	}
	h.c = NewController(h.store, h.feed, h.rec, zerolog.Nop())
	h.c.SetBackoff(Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2})
	t.Cleanup(h.c.Teardown)
	return h
}

// wireFeed makes every store write echo through the feed, like the real server.
func (h *harness) wireFeed() {
	h.store.Notify = h.feed.Emit
}

func titles(bs []api.Bookmark) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Title)
	}
	return out
}

func TestOnAuthenticated_LoadsNewestFirst(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("first", "https://one.example")
	h.store.Seed("second", "https://two.example")

	require.NoError(t, h.c.OnAuthenticated(context.Background(), alice))

	assert.Equal(t, []string{"second", "first"}, titles(h.c.Bookmarks()))
	assert.True(t, h.c.Active())
	assert.Equal(t, alice.ID, h.c.User().ID)
	assert.Equal(t, 1, h.feed.Open())
}

func TestOnAuthenticated_EmptyStore(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.OnAuthenticated(context.Background(), alice))

	assert.NotNil(t, h.c.Bookmarks())
	assert.Empty(t, h.c.Bookmarks())
}

func TestOnAuthenticated_SameUserIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.OnAuthenticated(ctx, alice))
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	assert.Equal(t, 1, h.feed.Opened())
	assert.Equal(t, 1, h.store.Lists())
}

func TestOnAuthenticated_ConcurrentCallsOpenOnce(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.c.OnAuthenticated(context.Background(), alice)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.feed.Opened())
	assert.Equal(t, 1, h.feed.Open())
}

func TestOnAuthenticated_SwitchingUserTearsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.OnAuthenticated(ctx, alice))
	require.NoError(t, h.c.OnAuthenticated(ctx, bob))

	assert.Equal(t, bob.ID, h.c.User().ID)
	assert.Equal(t, 2, h.feed.Opened())
	assert.Equal(t, 1, h.feed.Open())
}

func TestOnAuthenticated_FeedFailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("kept", "https://kept.example")
	h.feed.SetSubscribeErr(fake.ErrFeedDown)

	err := h.c.OnAuthenticated(context.Background(), alice)

	assert.ErrorIs(t, err, fake.ErrFeedDown)
	assert.True(t, h.c.Active())
	assert.Equal(t, []string{"kept"}, titles(h.c.Bookmarks()))
}

func TestOnAuthenticated_FetchFailureStillSubscribes(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("store down")
	h.store.ListFn = func(context.Context) error { return boom }

	err := h.c.OnAuthenticated(context.Background(), alice)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.feed.Open())
	assert.Empty(t, h.c.Bookmarks())
}

func TestAddBookmark_InvalidNeverInserts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.OnAuthenticated(context.Background(), alice))
	drainChanges(h.c)

	err := h.c.AddBookmark(context.Background(), "  ", "example.com")

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, h.store.Inserts())
	assert.Equal(t, map[string]string{
		core.FieldTitle: core.MsgTitleRequired,
		core.FieldURL:   core.MsgURLMalformed,
	}, h.c.ValidationErrors())
	assertChanged(t, h.c)
}

func TestAddBookmark_ValidClearsErrorsAndInsertsTrimmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	require.Error(t, h.c.AddBookmark(ctx, "", "https://example.com"))
	require.NoError(t, h.c.AddBookmark(ctx, "  Docs ", " https://example.com  "))

	assert.Nil(t, h.c.ValidationErrors())
	bs := h.c.Bookmarks()
	require.Len(t, bs, 1)
	assert.Equal(t, "Docs", bs[0].Title)
	assert.Equal(t, "https://example.com", bs[0].URL)
	assert.NotEmpty(t, bs[0].ID)
	assert.False(t, bs[0].CreatedAt.IsZero())
}

func TestAddBookmark_FeedEchoYieldsOneEntry(t *testing.T) {
	h := newHarness(t)
	h.wireFeed()
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	require.NoError(t, h.c.AddBookmark(ctx, "Docs", "https://example.com"))
	h.feed.Emit(api.EventInsert)

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.feedEvents == 2
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.store.Lists() >= 3
	}, waitFor, tick)

	assert.Equal(t, 1, h.store.Inserts())
	assert.Equal(t, []string{"Docs"}, titles(h.c.Bookmarks()))
}

func TestAddBookmark_StoreFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))
	boom := errors.New("insert refused")
	h.store.SetInsertErr(boom)

	err := h.c.AddBookmark(ctx, "Docs", "https://example.com")

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.c.Bookmarks())
}

func TestRemoveBookmark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keep := h.store.Seed("keep", "https://keep.example")
	drop := h.store.Seed("drop", "https://drop.example")
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	require.NoError(t, h.c.RemoveBookmark(ctx, drop.ID))
	require.NoError(t, h.c.RemoveBookmark(ctx, drop.ID), "repeat remove is a no-op")

	bs := h.c.Bookmarks()
	require.Len(t, bs, 1)
	assert.Equal(t, keep.ID, bs[0].ID)
}

func TestMutations_RequireActiveUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.c.AddBookmark(ctx, "Docs", "https://example.com"), ErrNotAuthenticated)
	assert.ErrorIs(t, h.c.RemoveBookmark(ctx, "bm-001"), ErrNotAuthenticated)
	assert.Equal(t, 0, h.store.Inserts())
	assert.Equal(t, 0, h.store.Deletes())
}

func TestTeardown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.Seed("a", "https://a.example")
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))
	require.Error(t, h.c.AddBookmark(ctx, "", ""))

	h.c.Teardown()
	h.c.Teardown()

	assert.False(t, h.c.Active())
	assert.Nil(t, h.c.User())
	assert.Empty(t, h.c.Bookmarks())
	assert.Nil(t, h.c.ValidationErrors())
	assert.Equal(t, 0, h.feed.Open())

	lists := h.store.Lists()
	h.feed.Emit(api.EventInsert)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, lists, h.store.Lists(), "events after teardown trigger nothing")
	assert.Empty(t, h.c.Bookmarks())
}

func TestRefetch_FailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.Seed("a", "https://a.example")
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	h.store.ListFn = func(context.Context) error { return errors.New("flaky") }
	h.feed.Emit(api.EventUpdate)

	require.Eventually(t, func() bool { return h.rec.fetch(metrics.FetchFailed) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"a"}, titles(h.c.Bookmarks()))
}

func TestRefetch_OlderResponseIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	h.store.ListFn = func(ctx context.Context) error {
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(blocked)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The feed-triggered fetch starts first and stalls.
	h.feed.Emit(api.EventInsert)
	<-blocked

	// A newer fetch completes while the older one is still in flight.
	require.NoError(t, h.c.AddBookmark(ctx, "Docs", "https://example.com"))
	require.Equal(t, 2, h.rec.fetch(metrics.FetchApplied))

	close(release)
	require.Eventually(t, func() bool { return h.rec.fetch(metrics.FetchStale) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"Docs"}, titles(h.c.Bookmarks()))
}

func TestRefetch_AfterTeardownIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	release := make(chan struct{})
	blocked := make(chan struct{})
	h.store.ListFn = func(context.Context) error {
		close(blocked)
		<-release
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- h.c.AddBookmark(ctx, "Docs", "https://example.com") }()
	<-blocked

	h.c.Teardown()
	close(release)

	require.NoError(t, <-errc)
	assert.Equal(t, 1, h.rec.fetch(metrics.FetchStale))
	assert.Empty(t, h.c.Bookmarks())
}

func TestFeed_BurstCoalesces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))

	release := make(chan struct{})
	blocked := make(chan struct{}, 1)
	h.store.ListFn = func(ctx context.Context) error {
		select {
		case blocked <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	h.feed.Emit(api.EventInsert)
	<-blocked
	for i := 0; i < 5; i++ {
		h.feed.Emit(api.EventInsert)
	}
	close(release)

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.feedEvents == 6
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.rec.fetch(metrics.FetchApplied) >= 3 }, waitFor, tick)

	// One initial load, one for the first event, one for the whole burst.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, h.store.Lists())
}

func TestFeed_ReopensAfterFailedSubscribe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.feed.SetSubscribeErr(fake.ErrFeedDown)

	require.ErrorIs(t, h.c.OnAuthenticated(ctx, alice), fake.ErrFeedDown)
	assert.ErrorIs(t, h.c.FeedErr(), fake.ErrFeedDown)
	require.NoError(t, h.c.OnAuthenticated(ctx, alice), "same user stays a no-op")

	// Written elsewhere while the feed was down.
	h.store.Seed("missed", "https://missed.example")
	h.feed.SetSubscribeErr(nil)

	require.Eventually(t, func() bool {
		return h.feed.Open() == 1 && len(h.c.Bookmarks()) == 1
	}, waitFor, tick)
	assert.NoError(t, h.c.FeedErr())
	assert.Equal(t, 1, h.feed.Opened())

	h.store.Seed("live", "https://live.example")
	h.feed.Emit(api.EventInsert)
	require.Eventually(t, func() bool { return len(h.c.Bookmarks()) == 2 }, waitFor, tick)
}

func TestFeed_ReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.c.OnAuthenticated(ctx, alice))
	drainChanges(h.c)

	h.feed.SetSubscribeErr(fake.ErrFeedDown)
	dropped := errors.New("server restarted")
	h.feed.Drop(dropped)

	require.Eventually(t, func() bool { return h.c.FeedErr() != nil }, waitFor, tick)
	assertChanged(t, h.c)
	assert.Equal(t, 0, h.feed.Open())

	h.store.Seed("missed", "https://missed.example")
	h.feed.SetSubscribeErr(nil)

	require.Eventually(t, func() bool {
		return h.feed.Open() == 1 && len(h.c.Bookmarks()) == 1
	}, waitFor, tick)
	assert.NoError(t, h.c.FeedErr())
	assert.Equal(t, 2, h.feed.Opened())
	assert.Equal(t, []string{"missed"}, titles(h.c.Bookmarks()))
}

func TestTeardown_StopsReconnecting(t *testing.T) {
	h := newHarness(t)
	h.feed.SetSubscribeErr(fake.ErrFeedDown)
	require.Error(t, h.c.OnAuthenticated(context.Background(), alice))

	h.c.Teardown()
	h.feed.SetSubscribeErr(nil)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, h.feed.Opened())
	assert.NoError(t, h.c.FeedErr())
}

func drainChanges(c *Controller) {
	for {
		select {
		case <-c.Changes():
		default:
			return
		}
	}
}

func assertChanged(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Changes():
	case <-time.After(waitFor):
		t.Fatal("expected a change notification")
	}
}
