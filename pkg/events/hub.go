package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// defaultWriteTimeout bounds each WebSocket send so one stalled observer
// cannot block a broadcast indefinitely.
const defaultWriteTimeout = 10 * time.Second

// Hub fans session events out to observer WebSocket clients. Each process
// has one Hub instance. Clients subscribe per session id and receive every
// event published for that session; catchup replays the session's log file.
type Hub struct {
	store *Store

	// Active connections: connection id -> *observerConn.
	mu    sync.RWMutex
	conns map[string]*observerConn

	// Subscriptions: session id -> set of connection ids.
	subsMu sync.RWMutex
	subs   map[string]map[string]bool

	writeTimeout time.Duration
}

// observerConn is a single observer client.
//
// subscriptions is accessed without a lock. All reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup), so no other goroutine ever touches it.
type observerConn struct {
	id            string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	subscriptions map[string]bool
}

// NewHub creates a Hub replaying catchup requests from store.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:        store,
		conns:        make(map[string]*observerConn),
		subs:         make(map[string]map[string]bool),
		writeTimeout: defaultWriteTimeout,
	}
}

// HandleConnection owns the lifecycle of one upgraded observer connection.
// Blocks until the connection closes.
func (h *Hub) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	c := &observerConn{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid observer message", "connection_id", c.id, "error", err)
			continue
		}

		h.handleClientMessage(ctx, c, &msg)
	}
}

func (h *Hub) handleClientMessage(ctx context.Context, c *observerConn, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.SessionID == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "session_id is required for subscribe"})
			return
		}
		h.subscribe(c, msg.SessionID)
		h.sendJSON(c, map[string]string{
			"type":       "subscription.confirmed",
			"session_id": msg.SessionID,
		})

	case "unsubscribe":
		if msg.SessionID == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "session_id is required for unsubscribe"})
			return
		}
		h.unsubscribe(c, msg.SessionID)

	case "catchup":
		if msg.SessionID == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "session_id is required for catchup"})
			return
		}
		h.catchup(ctx, c, msg.SessionID)

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// Broadcast sends a serialized event to every subscriber of sessionID.
// Subscriber ids are snapshotted under the lock and sends happen outside it,
// so a slow client (up to writeTimeout) never stalls subscribe/unsubscribe.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.subsMu.RLock()
	ids := make([]string, 0, len(h.subs[sessionID]))
	for id := range h.subs[sessionID] {
		ids = append(ids, id)
	}
	h.subsMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	h.mu.RLock()
	conns := make([]*observerConn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send to observer", "connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections returns the number of connected observers.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every observer connection with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*observerConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*observerConn)
	h.mu.Unlock()

	deadline := time.Now().Add(h.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	}
}

// catchup replays the session's full event log to one client in file order.
func (h *Hub) catchup(ctx context.Context, c *observerConn, sessionID string) {
	all, err := h.store.Read(ctx, sessionID, Filter{})
	if err != nil {
		slog.Error("Catchup read failed", "session_id", sessionID, "error", err)
		h.sendJSON(c, map[string]string{"type": "error", "message": "catchup failed"})
		return
	}

	for i := range all {
		payload, err := json.Marshal(&all[i])
		if err != nil {
			continue
		}
		if err := h.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.id, "error", err)
			return
		}
	}

	h.sendJSON(c, map[string]any{
		"type":        "catchup.complete",
		"session_id":  sessionID,
		"event_count": len(all),
	})
}

func (h *Hub) register(c *observerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(c *observerConn) {
	for sessionID := range c.subscriptions {
		h.unsubscribe(c, sessionID)
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	_ = c.conn.Close()
}

func (h *Hub) subscribe(c *observerConn, sessionID string) {
	h.subsMu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[string]bool)
	}
	h.subs[sessionID][c.id] = true
	h.subsMu.Unlock()

	c.subscriptions[sessionID] = true
}

func (h *Hub) unsubscribe(c *observerConn, sessionID string) {
	h.subsMu.Lock()
	if set, ok := h.subs[sessionID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
	h.subsMu.Unlock()

	delete(c.subscriptions, sessionID)
}

func (h *Hub) sendJSON(c *observerConn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.sendRaw(c, payload); err != nil {
		slog.Warn("Failed to send to observer", "connection_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *observerConn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// subscriberCount reports the subscribers for a session. Used by tests to
// poll instead of sleeping.
func (h *Hub) subscriberCount(sessionID string) int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs[sessionID])
}
