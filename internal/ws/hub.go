package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/malikkhubiev/qdrant/internal/orchestrator"
)

const writeWait = 5 * time.Second

// conn serializes writes to one socket.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Hub tracks the socket attached to each call and delivers pushed messages.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

// register attaches ws to callID; false when the call already has a socket.
func (h *Hub) register(callID string, ws *websocket.Conn) (*conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[callID]; ok {
		return nil, false
	}
	c := &conn{ws: ws}
	h.conns[callID] = c
	return c, true
}

func (h *Hub) unregister(callID string, c *conn) {
	h.mu.Lock()
	if h.conns[callID] == c {
		delete(h.conns, callID)
	}
	h.mu.Unlock()
}

// Push sends m to the call's socket. It reports false when no socket is
// attached or the write failed.
func (h *Hub) Push(callID string, m orchestrator.Message) bool {
	h.mu.RLock()
	c, ok := h.conns[callID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.writeJSON(m); err != nil {
		slog.Warn("push to socket", "call_id", callID, "error", err)
		return false
	}
	return true
}

// Len returns the number of attached sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
