// Package fake provides in-memory stand-ins for the identity provider,
// record store and change feed so client code can be tested without a
// server.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seckatie/marksync/internal/client/feed"
	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/client/store"
	"github.com/seckatie/marksync/internal/core/api"
)

// Provider is a scripted identity provider.
type Provider struct {
	// SessionFn, when set, runs at the start of every GetCurrentSession and
	// may block it.
	SessionFn func(ctx context.Context)

	mu         sync.Mutex
	user       *api.User
	sessionErr error
	signOutErr error

	sessionCalls int
	signOutCalls int
	lastSignIn   identity.SignInOptions
}

func NewProvider(user *api.User) *Provider {
	return &Provider{user: user}
}

// SetUser changes who GetCurrentSession reports; nil means signed out.
func (p *Provider) SetUser(user *api.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

func (p *Provider) SetSessionErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionErr = err
}

func (p *Provider) SetSignOutErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutErr = err
}

func (p *Provider) GetCurrentSession(ctx context.Context) (*api.User, error) {
	if p.SessionFn != nil {
		p.SessionFn(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionCalls++
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	if p.user == nil {
		return nil, nil
	}
	u := *p.user
	return &u, nil
}

func (p *Provider) SignInWithOAuth(_ context.Context, opts identity.SignInOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSignIn = opts
	return "https://accounts.example.com/authorize?provider=" + opts.Provider, nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	p.user = nil
	return p.signOutErr
}

func (p *Provider) SessionCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionCalls
}

func (p *Provider) SignOutCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOutCalls
}

func (p *Provider) LastSignIn() identity.SignInOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSignIn
}

// Store keeps bookmarks in memory for a single user.
type Store struct {
	// ListFn, when set, runs before every list and may block or fail it.
	ListFn func(ctx context.Context) error
	// Notify, when set, is called with INSERT or DELETE after each write.
	Notify func(event string)

	mu        sync.Mutex
	userID    string
	rows      []api.Bookmark
	nextID    int
	clock     time.Time
	inserts   int
	deletes   int
	lists     int
	insertErr error
}

func NewStore(userID string) *Store {
	return &Store{
		userID: userID,
		clock:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Seed inserts rows directly without counting them as inserts.
func (s *Store) Seed(title, rawURL string) api.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(title, rawURL)
}

func (s *Store) SetInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *Store) ListBookmarks(ctx context.Context) ([]api.Bookmark, error) {
	if s.ListFn != nil {
		if err := s.ListFn(ctx); err != nil {
			return nil, &store.StoreError{Op: "list bookmarks", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++

	out := make([]api.Bookmark, len(s.rows))
	copy(out, s.rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertBookmark(_ context.Context, title, rawURL string) (api.Bookmark, error) {
	s.mu.Lock()
	s.inserts++
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return api.Bookmark{}, &store.StoreError{Op: "insert bookmark", Err: err}
	}
	b := s.insertLocked(title, rawURL)
	notify := s.Notify
	s.mu.Unlock()

	if notify != nil {
		notify(api.EventInsert)
	}
	return b, nil
}

func (s *Store) DeleteBookmark(_ context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	removed := false
	for i, b := range s.rows {
		if b.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			removed = true
			break
		}
	}
	notify := s.Notify
	s.mu.Unlock()

	if removed && notify != nil {
		notify(api.EventDelete)
	}
	return nil
}

func (s *Store) insertLocked(title, rawURL string) api.Bookmark {
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	b := api.Bookmark{
		ID:        fmt.Sprintf("bm-%03d", s.nextID),
		UserID:    s.userID,
		Title:     strings.TrimSpace(title),
		URL:       strings.TrimSpace(rawURL),
		CreatedAt: s.clock,
	}
	s.rows = append(s.rows, b)
	return b
}

func (s *Store) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func (s *Store) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

func (s *Store) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// ErrFeedDown is returned by Feed.Subscribe after SetSubscribeErr.
var ErrFeedDown = errors.New("feed unavailable")

// Feed is an in-process change feed. Emit fans an event out to every open
// subscription.
type Feed struct {
	mu           sync.Mutex
	subs         map[*Subscription]struct{}
	subscribeErr error
	opened       int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

func (f *Feed) SetSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

func (f *Feed) Subscribe(_ context.Context) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &Subscription{
		feed:   f,
		events: make(chan feed.Event, 64),
	}
	f.subs[sub] = struct{}{}
	f.opened++
	return sub, nil
}

// Emit delivers one change of type event to every open subscription. A
// subscription whose buffer is full misses it.
func (f *Feed) Emit(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := feed.Event{
		Type:            event,
		Schema:          api.SchemaPublic,
		Table:           api.TableBookmarks,
		CommitTimestamp: time.Now(),
	}
	for sub := range f.subs {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Drop ends every open subscription as if the server went away. Each one
// reports err from Err.
func (f *Feed) Drop(err error) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.end(err)
	}
}

// Open is the number of subscriptions not yet closed.
func (f *Feed) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Opened counts every Subscribe that succeeded.
func (f *Feed) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Subscription is a Feed subscription.
type Subscription struct {
	feed   *Feed
	events chan feed.Event
	once   sync.Once
	err    error
}

func (s *Subscription) Events() <-chan feed.Event { return s.events }

func (s *Subscription) Close() error {
	s.end(nil)
	return nil
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.feed.mu.Lock()
		s.err = err
		delete(s.feed.subs, s)
		close(s.events)
		s.feed.mu.Unlock()
	})
}

func (s *Subscription) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

var (
	_ identity.Provider = (*Provider)(nil)
	_ store.Store       = (*Store)(nil)
	_ feed.Subscriber   = (*Feed)(nil)
)
