// Package feed subscribes to the store server's realtime change feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/core/api"
)

// ErrNoSession is returned by Subscribe when no access token is stored.
var ErrNoSession = errors.New("no session")

const (
	eventBuffer    = 16
	handshakeWait  = 10 * time.Second
	closeWriteWait = time.Second
)

// Event is a row-level change notification. It carries no row data.
type Event struct {
	// Type is INSERT, UPDATE or DELETE.
	Type            string
	Schema          string
	Table           string
	CommitTimestamp time.Time
}

// Subscription is one live feed connection.
type Subscription interface {
	// Events is closed when the subscription ends for any reason.
	Events() <-chan Event
	// Close releases the connection. It is safe to call more than once;
	// after it returns no further events are delivered.
	Close() error
	// Err reports why the stream ended on its own, or nil.
	Err() error
}

// Subscriber opens subscriptions to the bookmarks change feed.
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// WebSocketSubscriber implements Subscriber against /realtime/v1/websocket.
type WebSocketSubscriber struct {
	url    string
	tokens identity.TokenStore
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewWebSocketSubscriber(baseURL string, tokens identity.TokenStore, log zerolog.Logger) (*WebSocketSubscriber, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path += api.PathRealtime

	return &WebSocketSubscriber{
		url:    u.String(),
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeWait,
		},
		log: log,
	}, nil
}

// Subscribe opens one connection and waits for the server to acknowledge
// the bookmarks subscription.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	token, err := s.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	if token == "" {
		return nil, ErrNoSession
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open change feed: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}

	if err := handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	sub := &wsSubscription{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		log:    s.log,
	}
	sub.wg.Add(1)
	go sub.readLoop()

	s.log.Debug().Str("topic", api.TopicBookmarks).Msg("change feed subscribed")
	return sub, nil
}

func handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(handshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	err := conn.WriteJSON(api.Message{
		Type:   api.MessageSubscribe,
		Topic:  api.TopicBookmarks,
		Schema: api.SchemaPublic,
		Table:  api.TableBookmarks,
		Event:  api.EventAll,
	})
	if err != nil {
		return fmt.Errorf("failed to send subscribe: %w", err)
	}

	var ack api.Message
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("failed to read subscribe ack: %w", err)
	}
	switch ack.Type {
	case api.MessageSubscribed:
	case api.MessageError:
		return fmt.Errorf("subscribe rejected: %s", ack.Error)
	default:
		return fmt.Errorf("unexpected %q before subscribe ack", ack.Type)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	log    zerolog.Logger

	mu  sync.Mutex
	err error
}

func (s *wsSubscription) Events() <-chan Event { return s.events }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait))
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *wsSubscription) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		var msg api.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = fmt.Errorf("change feed ended: %w", err)
				s.mu.Unlock()
				s.log.Warn().Err(err).Msg("change feed ended")
			}
			return
		}

		switch msg.Type {
		case api.MessageChange:
		case api.MessageError:
			s.log.Warn().Str("error", msg.Error).Msg("change feed error")
			continue
		default:
			continue
		}
		if msg.Topic != api.TopicBookmarks || msg.Table != api.TableBookmarks {
			continue
		}

		ev := Event{
			Type:            msg.Event,
			Schema:          msg.Schema,
			Table:           msg.Table,
			CommitTimestamp: msg.CommitTimestamp,
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
