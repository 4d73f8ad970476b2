// Package server exposes the REST API and the per-room websocket stream over
// gin and gorilla/websocket.
package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/orchestrator"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// Connection wraps a websocket watching one room. Outbound writes go through
// a buffered channel so a slow client never blocks the discussion loop.
type Connection struct {
	ID string

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewConnection wraps an upgraded websocket.
func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:    uuid.NewString(),
		ws:    ws,
		send:  make(chan []byte, sendBuffer),
		close: make(chan struct{}),
	}
}

// Start launches the write loop. Call exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A full buffer closes the connection so
// backpressure stays bounded; only this client is affected.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// SendJSON marshals v and enqueues it.
func (c *Connection) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Close terminates the connection and stops the write loop. Idempotent.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Hub fans discussion events out to every websocket watching a room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Connection)}
}

// Attach registers conn as a watcher of roomID and starts its write loop.
func (h *Hub) Attach(roomID string, conn *Connection) {
	h.mu.Lock()
	watchers := h.rooms[roomID]
	if watchers == nil {
		watchers = make(map[string]*Connection)
		h.rooms[roomID] = watchers
	}
	watchers[conn.ID] = conn
	h.mu.Unlock()

	conn.Start()
}

// Detach removes conn from roomID's watchers.
func (h *Hub) Detach(roomID string, conn *Connection) {
	h.mu.Lock()
	if watchers := h.rooms[roomID]; watchers != nil {
		delete(watchers, conn.ID)
		if len(watchers) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers payload to every watcher of roomID. A failed send drops
// only that client.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	h.mu.RLock()
	watchers := h.rooms[roomID]
	conns := make([]*Connection, 0, len(watchers))
	for _, c := range watchers {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// BroadcastEvent serializes a discussion event and broadcasts it.
func (h *Hub) BroadcastEvent(roomID string, e orchestrator.Event) {
	payload, err := orchestrator.MarshalEvent(e)
	if err != nil {
		log.Error(log.CatServer, "Failed to marshal event", "kind", e.EventKind(), "error", err)
		return
	}
	h.Broadcast(roomID, payload)
}

// Close terminates every tracked connection.
func (h *Hub) Close() {
	h.mu.Lock()
	var conns []*Connection
	for _, watchers := range h.rooms {
		for _, c := range watchers {
			conns = append(conns, c)
		}
	}
	h.rooms = make(map[string]map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
