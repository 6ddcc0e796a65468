package http

import (
	"sync"

	"livequiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

// event is the wire envelope for every outbound frame.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// client is one websocket connection with its own writer goroutine; all
// writes go through send so the connection never sees concurrent writers.
type client struct {
	id   string
	code string
	name string
	conn *websocket.Conn
	send chan event
	once sync.Once
}

func newClient(id, code, name string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		code: code,
		name: name,
		conn: conn,
		send: make(chan event, 16),
	}
}

// enqueue drops the frame if the client's buffer is full; a stalled client
// must not block room broadcasts.
func (c *client) enqueue(ev event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub tracks which connections belong to which session code and fans
// outbound events into their send queues.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*client // code -> connID -> client
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*client)}
}

func (h *Hub) Add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.code]
	if !ok {
		room = make(map[string]*client)
		h.rooms[c.code] = room
	}
	room[c.id] = c
}

func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[c.code]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, c.code)
		}
	}
}

// Broadcast sends to everyone in the room, host included.
func (h *Hub) Broadcast(code string, ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[code] {
		c.enqueue(ev)
	}
}

// BroadcastPlayers sends to everyone but the host.
func (h *Hub) BroadcastPlayers(code string, ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[code] {
		if c.name != domain.HostName {
			c.enqueue(ev)
		}
	}
}

// SendHost sends to the host connection(s) only.
func (h *Hub) SendHost(code string, ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[code] {
		if c.name == domain.HostName {
			c.enqueue(ev)
		}
	}
}

// CloseConn force-closes an evicted connection by ID.
func (h *Hub) CloseConn(code, connID string) {
	h.mu.Lock()
	var c *client
	if room, ok := h.rooms[code]; ok {
		if c = room[connID]; c != nil {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, code)
			}
		}
	}
	h.mu.Unlock()
	if c != nil {
		c.close()
		_ = c.conn.Close()
	}
}
