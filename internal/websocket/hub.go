package websocket

import (
	"context"
	"encoding/json"
)

// StatusUpdate is pushed to every client watching SessionID.
type StatusUpdate struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
}

type Client struct {
	hub       *Hub
	conn      *Conn
	send      chan []byte
	sessionID string

	// updated is set by the hub once a broadcast reached the client, after
	// which an older snapshot must not be sent.
	updated bool
}

type snapshot struct {
	client *Client
	msg    []byte
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan StatusUpdate
	snapshots  chan snapshot
	clients    map[string]map[*Client]bool
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan StatusUpdate, 64),
		snapshots:  make(chan snapshot),
		clients:    make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.sessionID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.sessionID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.remove(c)
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			for c := range h.clients[upd.SessionID] {
				h.deliver(c, msg)
				c.updated = true
			}
		case snap := <-h.snapshots:
			c := snap.client
			if h.clients[c.sessionID][c] && !c.updated {
				h.deliver(c, snap.msg)
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return
		}
	}
}

func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

// Broadcast queues u for delivery. It gives up when ctx is done.
func (h *Hub) Broadcast(ctx context.Context, u StatusUpdate) {
	select {
	case h.broadcast <- u:
	case <-ctx.Done():
	case <-h.done:
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// sendSnapshot delivers the state read after c joined, unless a newer
// broadcast already reached it.
func (h *Hub) sendSnapshot(c *Client, u StatusUpdate) {
	msg, err := json.Marshal(u)
	if err != nil {
		return
	}
	select {
	case h.snapshots <- snapshot{client: c, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
