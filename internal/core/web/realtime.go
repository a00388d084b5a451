package web

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/core/db"
	"github.com/seckatie/marksync/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 10
	sendBuffer     = 16
)

// hub fans store change events out to the realtime clients of the user who
// owns the changed row. Events carry no row data; clients re-read their rows.
type hub struct {
	log     zerolog.Logger
	metrics metrics.ServerRecorder

	mu     sync.Mutex
	conns  map[*realtimeConn]struct{}
	closed bool

	unregister []func()
}

func newHub(database *db.DB, rec metrics.ServerRecorder, log zerolog.Logger) *hub {
	h := &hub{
		log:     log,
		metrics: rec,
		conns:   make(map[*realtimeConn]struct{}),
	}
	for _, kind := range db.BookmarkEventKinds {
		h.unregister = append(h.unregister, database.RegisterEventListener(kind, h.onEvent))
	}
	return h
}

func (h *hub) onEvent(event db.Event) error {
	msg := api.Message{
		Type:            api.MessageChange,
		Schema:          api.SchemaPublic,
		Table:           api.TableBookmarks,
		Event:           operationFor(event.Kind()),
		CommitTimestamp: event.CommittedAt(),
	}

	owner := event.Owner()

	h.mu.Lock()
	conns := make([]*realtimeConn, 0, len(h.conns))
	for c := range h.conns {
		if c.userID == owner {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.deliver(msg)
	}
	h.metrics.RecordBroadcast(msg.Event)
	return nil
}

func (h *hub) add(c *realtimeConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *hub) remove(c *realtimeConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// count reports how many connections are attached.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close detaches from the store and drops every connection.
func (h *hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := h.conns
	h.conns = make(map[*realtimeConn]struct{})
	h.mu.Unlock()

	for _, unregister := range h.unregister {
		unregister()
	}
	for c := range conns {
		c.close()
	}
}

func operationFor(kind db.EventKind) string {
	switch kind {
	case db.OnBookmarkCreatedEvent:
		return api.EventInsert
	case db.OnBookmarkDeletedEvent:
		return api.EventDelete
	default:
		return api.EventUpdate
	}
}

// realtimeConn is one WebSocket client. The handler goroutine reads; a
// second goroutine owns all writes.
type realtimeConn struct {
	ws      *websocket.Conn
	userID  string
	log     zerolog.Logger
	metrics metrics.ServerRecorder

	send chan api.Message
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	topics map[string]string // topic -> event filter
}

func newRealtimeConn(ws *websocket.Conn, userID string, rec metrics.ServerRecorder, log zerolog.Logger) *realtimeConn {
	return &realtimeConn{
		ws:      ws,
		userID:  userID,
		log:     log,
		metrics: rec,
		send:    make(chan api.Message, sendBuffer),
		done:    make(chan struct{}),
		topics:  make(map[string]string),
	}
}

// deliver queues msg for every matching subscription without blocking. A full
// buffer already holds a pending change, so dropping the newer one loses
// nothing the client would act on differently.
func (c *realtimeConn) deliver(msg api.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic, filter := range c.topics {
		if filter != api.EventAll && filter != msg.Event {
			continue
		}
		m := msg
		m.Topic = topic
		select {
		case c.send <- m:
		default:
			c.log.Debug().Str("topic", topic).Msg("realtime buffer full, dropping change")
		}
	}
}

// reply queues a control response; it only gives up once the connection closes.
func (c *realtimeConn) reply(msg api.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *realtimeConn) subscribe(topic, event string) {
	c.mu.Lock()
	_, existed := c.topics[topic]
	c.topics[topic] = event
	c.mu.Unlock()

	if !existed {
		c.metrics.SubscriptionOpened()
	}
}

func (c *realtimeConn) unsubscribe(topic string) {
	c.mu.Lock()
	_, existed := c.topics[topic]
	delete(c.topics, topic)
	c.mu.Unlock()

	if existed {
		c.metrics.SubscriptionClosed()
	}
}

func (c *realtimeConn) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		n := len(c.topics)
		c.topics = make(map[string]string)
		c.mu.Unlock()
		for i := 0; i < n; i++ {
			c.metrics.SubscriptionClosed()
		}

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *realtimeConn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg api.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("realtime connection closed unexpectedly")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case api.MessageSubscribe:
			event, err := checkFilter(msg)
			if err != nil {
				c.reply(api.Message{Type: api.MessageError, Topic: msg.Topic, Error: err.Error()})
				continue
			}
			c.subscribe(msg.Topic, event)
			c.log.Debug().Str("topic", msg.Topic).Str("event", event).Msg("realtime subscribed")
			c.reply(api.Message{
				Type:   api.MessageSubscribed,
				Topic:  msg.Topic,
				Schema: api.SchemaPublic,
				Table:  api.TableBookmarks,
				Event:  event,
			})
		case api.MessageUnsubscribe:
			c.unsubscribe(msg.Topic)
		default:
			c.reply(api.Message{Type: api.MessageError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (c *realtimeConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("realtime write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// checkFilter validates a subscribe request and returns its event filter.
func checkFilter(msg api.Message) (string, error) {
	if msg.Topic == "" {
		return "", errors.New("topic is required")
	}
	if msg.Schema != api.SchemaPublic || msg.Table != api.TableBookmarks {
		return "", errors.New("only public.bookmarks can be subscribed to")
	}
	switch msg.Event {
	case "":
		return api.EventAll, nil
	case api.EventAll, api.EventInsert, api.EventUpdate, api.EventDelete:
		return msg.Event, nil
	default:
		return "", errors.New("unknown event filter " + msg.Event)
	}
}

// handleRealtime upgrades an authenticated request to a change feed socket.
func (ws *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := ws.log.With().Str("user_id", p.UserID).Str("component", "realtime").Logger()
	c := newRealtimeConn(conn, p.UserID, ws.metrics, logger)
	if !ws.hub.add(c) {
		c.close()
		return
	}
	defer ws.hub.remove(c)
	defer c.close()

	go c.writeLoop()
	c.readLoop()
}
