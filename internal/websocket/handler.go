package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gw "github.com/gorilla/websocket"

	"gozon/storefront/internal/auth"
	"gozon/storefront/internal/checkout"
)

type Conn = gw.Conn

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionLookup resolves a session the caller is allowed to see.
type SessionLookup interface {
	SessionFor(ctx context.Context, user auth.Identity, sessionID string) (*checkout.Session, error)
}

type Handler struct {
	hub      *Hub
	sessions SessionLookup
	logger   *slog.Logger
}

func NewHandler(hub *Hub, sessions SessionLookup, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, sessions: sessions, logger: logger}
}

// ServeWS streams status changes of one payment session. The route must sit
// behind the auth middleware; ownership is checked before upgrading.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	ps, err := h.sessions.SessionFor(r.Context(), user, sessionID)
	if err != nil {
		http.Error(w, "payment session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "err", err)
		return
	}

	client := &Client{
		hub:       h.hub,
		conn:      conn,
		send:      make(chan []byte, 16),
		sessionID: sessionID,
	}

	if !h.hub.join(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	// The state is read again after joining so an update racing the upgrade
	// is either in the snapshot or broadcast afterwards.
	if fresh, err := h.sessions.SessionFor(r.Context(), user, sessionID); err == nil {
		ps = fresh
	}
	h.hub.sendSnapshot(client, StatusUpdate{SessionID: ps.SessionID, OrderID: ps.OrderID, Status: string(ps.Status)})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gw.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gw.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
