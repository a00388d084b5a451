package db

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// TestEventKindString tests the String method on EventKind.
func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind     EventKind
		expected string
	}{
		{OnBookmarkCreatedEvent, "bookmark_created"},
		{OnBookmarkDeletedEvent, "bookmark_deleted"},
		{EventKind(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// TestEventTypes tests that event types return correct Kind and owner.
func TestEventTypes(t *testing.T) {
	t.Run("BookmarkCreatedEvent", func(t *testing.T) {
		e := BookmarkCreatedEvent{Bookmark: Bookmark{ID: "1", UserID: "u"}}
		if e.Kind() != OnBookmarkCreatedEvent {
			t.Errorf("expected OnBookmarkCreatedEvent, got %v", e.Kind())
		}
		if e.Owner() != "u" {
			t.Errorf("expected owner u, got %q", e.Owner())
		}
	})

	t.Run("BookmarkDeletedEvent", func(t *testing.T) {
		e := BookmarkDeletedEvent{Bookmark: Bookmark{ID: "1", UserID: "u"}}
		if e.Kind() != OnBookmarkDeletedEvent {
			t.Errorf("expected OnBookmarkDeletedEvent, got %v", e.Kind())
		}
		if e.Owner() != "u" {
			t.Errorf("expected owner u, got %q", e.Owner())
		}
	})
}

// TestBookmarkCreatedEvent tests that event is emitted on bookmark creation.
func TestBookmarkCreatedEvent(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")

	var receivedEvent BookmarkCreatedEvent
	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		receivedEvent = event.(BookmarkCreatedEvent)
		return nil
	})

	b, _ := db.AddBookmark(context.Background(), u.ID, "Test Site", "https://example.com")

	if receivedEvent.Bookmark.ID != b.ID {
		t.Errorf("expected bookmark ID %s, got %s", b.ID, receivedEvent.Bookmark.ID)
	}
	if receivedEvent.Owner() != u.ID {
		t.Errorf("expected owner %s, got %s", u.ID, receivedEvent.Owner())
	}
	if receivedEvent.CommittedAt().IsZero() {
		t.Error("expected a commit timestamp")
	}
}

// TestBookmarkDeletedEvent tests that event is emitted on bookmark deletion.
func TestBookmarkDeletedEvent(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")
	ctx := context.Background()

	b, _ := db.AddBookmark(ctx, u.ID, "To Delete", "https://example.com")

	calls := 0
	var receivedEvent BookmarkDeletedEvent
	db.RegisterEventListener(OnBookmarkDeletedEvent, func(event Event) error {
		calls++
		receivedEvent = event.(BookmarkDeletedEvent)
		return nil
	})

	db.DeleteBookmark(ctx, u.ID, b.ID)
	db.DeleteBookmark(ctx, u.ID, b.ID)

	if calls != 1 {
		t.Errorf("expected a single event for a single removed row, got %d", calls)
	}
	if receivedEvent.Bookmark.ID != b.ID {
		t.Errorf("expected bookmark ID %s, got %s", b.ID, receivedEvent.Bookmark.ID)
	}
}

// TestMultipleListeners tests that multiple listeners are called in order.
func TestMultipleListeners(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")

	var order []int
	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		order = append(order, 1)
		return nil
	})
	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		order = append(order, 2)
		return nil
	})

	db.AddBookmark(context.Background(), u.ID, "Test", "https://example.com")

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected listeners called in registration order, got %v", order)
	}
}

// TestListenerErrors tests that listener errors are handled gracefully.
func TestListenerErrors(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")

	secondCalled := false

	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		return errors.New("first listener error")
	})
	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		secondCalled = true
		return nil
	})

	// Should not panic and should continue to next listener
	if _, err := db.AddBookmark(context.Background(), u.ID, "Test", "https://example.com"); err != nil {
		t.Fatalf("expected no error from AddBookmark, got %v", err)
	}
	if !secondCalled {
		t.Error("expected second listener to be called despite first listener error")
	}
}

// TestListenersForDifferentEvents tests that listeners only receive their event type.
func TestListenersForDifferentEvents(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")

	createdCalled := false
	deletedCalled := false

	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		createdCalled = true
		return nil
	})
	db.RegisterEventListener(OnBookmarkDeletedEvent, func(event Event) error {
		deletedCalled = true
		return nil
	})

	// Only create a bookmark, don't delete
	db.AddBookmark(context.Background(), u.ID, "Test", "https://example.com")

	if !createdCalled {
		t.Error("expected created listener to be called")
	}
	if deletedCalled {
		t.Error("expected deleted listener NOT to be called")
	}
}

func TestUnregisterEventListener(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")
	ctx := context.Background()

	removedCalls, keptCalls := 0, 0
	unregister := db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		removedCalls++
		return nil
	})
	db.RegisterEventListener(OnBookmarkCreatedEvent, func(event Event) error {
		keptCalls++
		return nil
	})

	db.AddBookmark(ctx, u.ID, "one", "https://example.com/1")
	unregister()
	unregister()
	db.AddBookmark(ctx, u.ID, "two", "https://example.com/2")

	if removedCalls != 1 {
		t.Errorf("expected removed listener to run once, got %d", removedCalls)
	}
	if keptCalls != 2 {
		t.Errorf("expected remaining listener to run twice, got %d", keptCalls)
	}
}

func TestRegisterEventListener_Concurrent(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unregister := db.RegisterEventListener(OnBookmarkCreatedEvent, func(Event) error { return nil })
			unregister()
		}()
		go func() {
			defer wg.Done()
			if _, err := db.AddBookmark(ctx, u.ID, "t", "https://example.com"); err != nil {
				t.Errorf("AddBookmark: %v", err)
			}
		}()
	}
	wg.Wait()
}
