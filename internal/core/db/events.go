package db

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ------------------------------
// Event System
// ------------------------------
//
// The DB emits typed events after bookmark rows are inserted or deleted.
// The realtime hub registers listeners here to fan changes out to
// subscribed clients.
//
// Example usage:
//
//	unregister := db.RegisterEventListener(db.OnBookmarkCreatedEvent, func(event db.Event) error {
//	    ev := event.(db.BookmarkCreatedEvent)
//	    log.Info().Str("user_id", ev.Bookmark.UserID).Msg("bookmark created")
//	    return nil
//	})
//	defer unregister()
//
// Event is the common interface for all database events.
type Event interface {
	Kind() EventKind
	// Owner is the ID of the user whose data changed.
	Owner() string
	// CommittedAt is when the write was committed.
	CommittedAt() time.Time
}

// EventKind represents all the kinds of events that can be emitted by the DB.
type EventKind int

const (
	// OnBookmarkCreatedEvent is emitted when a bookmark is created.
	OnBookmarkCreatedEvent EventKind = iota
	// OnBookmarkDeletedEvent is emitted when a bookmark is deleted.
	OnBookmarkDeletedEvent
)

// BookmarkEventKinds lists every kind a bookmark change can produce.
var BookmarkEventKinds = []EventKind{OnBookmarkCreatedEvent, OnBookmarkDeletedEvent}

func (k EventKind) String() string {
	switch k {
	case OnBookmarkCreatedEvent:
		return "bookmark_created"
	case OnBookmarkDeletedEvent:
		return "bookmark_deleted"
	default:
		return "unknown"
	}
}

// BookmarkCreatedEvent is emitted after a new bookmark is successfully inserted.
type BookmarkCreatedEvent struct {
	Bookmark Bookmark
	At       time.Time
}

func (e BookmarkCreatedEvent) Kind() EventKind        { return OnBookmarkCreatedEvent }
func (e BookmarkCreatedEvent) Owner() string          { return e.Bookmark.UserID }
func (e BookmarkCreatedEvent) CommittedAt() time.Time { return e.At }

// BookmarkDeletedEvent is emitted after a bookmark row is removed.
// Deleting a missing row emits nothing.
type BookmarkDeletedEvent struct {
	Bookmark Bookmark
	At       time.Time
}

func (e BookmarkDeletedEvent) Kind() EventKind        { return OnBookmarkDeletedEvent }
func (e BookmarkDeletedEvent) Owner() string          { return e.Bookmark.UserID }
func (e BookmarkDeletedEvent) CommittedAt() time.Time { return e.At }

// EventListener is a callback that handles events of a specific kind.
type EventListener func(event Event) error

type listenerEntry struct {
	id       uint64
	listener EventListener
}

// RegisterEventListener adds a listener for a specific event kind and returns
// a func that removes it again. Listeners are called synchronously in
// registration order after the DB operation succeeds, so they must not block.
func (db *DB) RegisterEventListener(eventKind EventKind, listener EventListener) (unregister func()) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.eventListeners == nil {
		db.eventListeners = make(map[EventKind][]listenerEntry)
	}
	db.nextListenerID++
	id := db.nextListenerID

	// Copy on write so emit can iterate without holding the lock.
	current := db.eventListeners[eventKind]
	next := make([]listenerEntry, len(current), len(current)+1)
	copy(next, current)
	db.eventListeners[eventKind] = append(next, listenerEntry{id: id, listener: listener})

	return func() { db.removeEventListener(eventKind, id) }
}

func (db *DB) removeEventListener(eventKind EventKind, id uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	current := db.eventListeners[eventKind]
	next := make([]listenerEntry, 0, len(current))
	for _, entry := range current {
		if entry.id != id {
			next = append(next, entry)
		}
	}
	db.eventListeners[eventKind] = next
}

// emit dispatches an event to all registered listeners for that event kind.
func (db *DB) emit(event Event) {
	db.mu.Lock()
	listeners := db.eventListeners[event.Kind()]
	db.mu.Unlock()

	for _, entry := range listeners {
		if err := entry.listener(event); err != nil {
			log.Error().Err(err).Stringer("event", event.Kind()).Msg("event listener failed")
		}
	}
}
