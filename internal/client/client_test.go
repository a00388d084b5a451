package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seckatie/marksync/internal/client/fake"
	"github.com/seckatie/marksync/internal/client/feed"
	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/client/session"
	"github.com/seckatie/marksync/internal/client/store"
	"github.com/seckatie/marksync/internal/client/syncer"
	"github.com/seckatie/marksync/internal/core"
	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/testutil"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

var alice = &api.User{ID: "u-alice", Email: "alice@example.com"}

type fakes struct {
	provider *fake.Provider
	store    *fake.Store
	feed     *fake.Feed
}

func newFakeContext(t *testing.T, user *api.User) (*Context, fakes) {
	t.Helper()
	f := fakes{
		provider: fake.NewProvider(user),
		store:    fake.NewStore(alice.ID),
		feed:     fake.NewFeed(),
	}
	f.store.Notify = f.feed.Emit

	c := New(Deps{
		Provider: f.provider,
		Store:    f.store,
		Feed:     f.feed,
		Session:  session.DefaultConfig("http://127.0.0.1:1/callback"),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(c.Dispose)
	return c, f
}

func TestInit_SignedOut(t *testing.T) {
	c, f := newFakeContext(t, nil)

	require.NoError(t, c.Init(context.Background()))

	assert.Equal(t, session.Unauthenticated, c.SessionState())
	assert.Nil(t, c.User())
	assert.Empty(t, c.Bookmarks())
	assert.Equal(t, 0, f.feed.Opened())
}

func TestInit_SignedInLoadsBookmarks(t *testing.T) {
	c, f := newFakeContext(t, alice)
	f.store.Seed("Docs", "https://example.com")

	require.NoError(t, c.Init(context.Background()))

	assert.Equal(t, session.Authenticated, c.SessionState())
	require.Len(t, c.Bookmarks(), 1)
	assert.Equal(t, "Docs", c.Bookmarks()[0].Title)
	assert.Equal(t, 1, f.feed.Open())
}

func TestInit_AuthFailureIsSignedOut(t *testing.T) {
	c, f := newFakeContext(t, alice)
	cause := errors.New("identity service down")
	f.provider.SetSessionErr(cause)

	require.NoError(t, c.Init(context.Background()))

	assert.Equal(t, session.Unauthenticated, c.SessionState())
	assert.ErrorIs(t, c.SessionErr(), cause)
	assert.Equal(t, 0, f.feed.Opened())
}

func TestLogout_ClearsAndStopsFeed(t *testing.T) {
	c, f := newFakeContext(t, alice)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.AddBookmark(ctx, "Docs", "https://example.com"))

	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, session.Unauthenticated, c.SessionState())
	assert.Empty(t, c.Bookmarks())
	assert.Equal(t, 0, f.feed.Open())

	f.feed.Emit(api.EventInsert)
	assert.Empty(t, c.Bookmarks())
	assert.ErrorIs(t, c.AddBookmark(ctx, "x", "https://x.example"), syncer.ErrNotAuthenticated)
}

func TestLogout_ProviderFailureStillSignsOut(t *testing.T) {
	c, f := newFakeContext(t, alice)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))
	f.provider.SetSignOutErr(errors.New("offline"))

	assert.Error(t, c.Logout(ctx))
	assert.Equal(t, session.Unauthenticated, c.SessionState())
	assert.Equal(t, 0, f.feed.Open())
}

func TestRefresh_AfterBrowserLogin(t *testing.T) {
	c, f := newFakeContext(t, nil)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	u, err := c.Login(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, u)

	f.provider.SetUser(alice)
	require.NoError(t, c.Refresh(ctx))

	assert.Equal(t, session.Authenticated, c.SessionState())
	assert.Equal(t, 1, f.feed.Open())
}

func TestAddBookmark_ValidationSurface(t *testing.T) {
	c, f := newFakeContext(t, alice)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	err := c.AddBookmark(ctx, "", "example.com")

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, core.MsgTitleRequired, c.ValidationErrors()[core.FieldTitle])
	assert.Equal(t, core.MsgURLMalformed, c.ValidationErrors()[core.FieldURL])
	assert.Equal(t, 0, f.store.Inserts())
}

func TestFeedErr_SurfacesLostFeed(t *testing.T) {
	c, f := newFakeContext(t, alice)
	require.NoError(t, c.Init(context.Background()))
	require.NoError(t, c.FeedErr())

	f.feed.SetSubscribeErr(fake.ErrFeedDown)
	f.feed.Drop(errors.New("connection reset"))

	require.Eventually(t, func() bool { return c.FeedErr() != nil }, waitFor, tick)

	f.feed.SetSubscribeErr(nil)
	require.Eventually(t, func() bool { return c.FeedErr() == nil && f.feed.Open() == 1 }, waitFor, tick)
}

func TestDispose_Idempotent(t *testing.T) {
	c, f := newFakeContext(t, alice)
	require.NoError(t, c.Init(context.Background()))

	c.Dispose()
	c.Dispose()

	assert.Equal(t, 0, f.feed.Open())
	assert.Empty(t, c.Bookmarks())
}

// newLiveContext builds a Context against a real store server for token.
func newLiveContext(t *testing.T, srv *testutil.StoreServer, token string) (*Context, identity.TokenStore) {
	t.Helper()
	tokens := identity.NewMemoryTokenStore(token)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	sub, err := feed.NewWebSocketSubscriber(srv.URL, tokens, zerolog.Nop())
	require.NoError(t, err)

	c := New(Deps{
		Provider: identity.NewHTTPProvider(srv.URL, tokens, httpClient, zerolog.Nop()),
		Store:    store.NewHTTPStore(srv.URL, tokens, httpClient, zerolog.Nop()),
		Feed:     sub,
		Session:  session.DefaultConfig("http://127.0.0.1:1/callback"),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(c.Dispose)
	return c, tokens
}

func TestLive_InsertSettlesToOneEntry(t *testing.T) {
	srv := testutil.StartStoreServer(t)
	token, _ := srv.SignIn(t, "alice")
	c, _ := newLiveContext(t, srv, token)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx))
	assert.Empty(t, c.Bookmarks())

	require.NoError(t, c.AddBookmark(ctx, "Docs", "https://example.com"))

	bs := c.Bookmarks()
	require.Len(t, bs, 1)
	assert.Equal(t, "Docs", bs[0].Title)
	assert.NotEmpty(t, bs[0].ID)

	// The feed echo of our own insert must not duplicate it.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, c.Bookmarks(), 1)
}

func TestLive_OtherSessionChangesArrive(t *testing.T) {
	srv := testutil.StartStoreServer(t)
	tokenA, _ := srv.SignIn(t, "alice")
	tokenB, _ := srv.SignIn(t, "alice")
	ctx := context.Background()

	laptop, _ := newLiveContext(t, srv, tokenA)
	phone, _ := newLiveContext(t, srv, tokenB)
	require.NoError(t, laptop.Init(ctx))
	require.NoError(t, phone.Init(ctx))

	require.NoError(t, phone.AddBookmark(ctx, "From phone", "https://phone.example"))

	require.Eventually(t, func() bool {
		bs := laptop.Bookmarks()
		return len(bs) == 1 && bs[0].Title == "From phone"
	}, waitFor, tick)

	id := laptop.Bookmarks()[0].ID
	require.NoError(t, laptop.RemoveBookmark(ctx, id))
	require.NoError(t, laptop.RemoveBookmark(ctx, id))

	require.Eventually(t, func() bool { return len(phone.Bookmarks()) == 0 }, waitFor, tick)
}

func TestLive_LogoutRevokesToken(t *testing.T) {
	srv := testutil.StartStoreServer(t)
	token, _ := srv.SignIn(t, "alice")
	c, tokens := newLiveContext(t, srv, token)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx))

	require.NoError(t, c.Logout(ctx))

	saved, err := tokens.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)

	// The old token is dead server-side too.
	again, _ := newLiveContext(t, srv, token)
	require.NoError(t, again.Init(ctx))
	assert.Equal(t, session.Unauthenticated, again.SessionState())
}
