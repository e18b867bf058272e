package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/storefront/internal/auth"
	"gozon/storefront/internal/checkout"
	"gozon/storefront/pkg/contracts"
	"gozon/storefront/pkg/messaging"
)

type sessions map[string]*checkout.Session

func (s sessions) SessionFor(_ context.Context, user auth.Identity, sessionID string) (*checkout.Session, error) {
	ps, ok := s[sessionID]
	if !ok || ps.UserID != user.ID {
		return nil, checkout.ErrSessionNotFound
	}
	return ps, nil
}

func newTestServer(t *testing.T, hub *Hub, known sessions) *httptest.Server {
	t.Helper()

	h := NewHandler(hub, known, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Test-User") == "" {
				next.ServeHTTP(w, r)
				return
			}
			id := auth.Identity{ID: uuid.MustParse(r.Header.Get("X-Test-User")), Role: auth.RoleUser}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	})
	r.Get("/order/session/{sessionID}/ws", h.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string, user uuid.UUID) (*gw.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/order/session/" + sessionID + "/ws"
	header := http.Header{}
	if user != uuid.Nil {
		header.Set("X-Test-User", user.String())
	}
	return gw.DefaultDialer.Dial(url, header)
}

func readUpdate(t *testing.T, conn *gw.Conn) StatusUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var upd StatusUpdate
	require.NoError(t, json.Unmarshal(msg, &upd))
	return upd
}

func TestSessionStatusStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	owner := uuid.New()
	srv := newTestServer(t, hub, sessions{
		"cs_1": {SessionID: "cs_1", OrderID: "123456", UserID: owner, Status: checkout.StatusPending},
	})

	conn, _, err := dial(t, srv, "cs_1", owner)
	require.NoError(t, err)
	defer conn.Close()

	first := readUpdate(t, conn)
	assert.Equal(t, StatusUpdate{SessionID: "cs_1", OrderID: "123456", Status: "pending"}, first)

	body, err := json.Marshal(contracts.CheckoutResolvedEvent{
		EventID: "e1", SessionID: "cs_1", OrderID: "123456", Status: contracts.CheckoutSucceeded,
	})
	require.NoError(t, err)

	// The first message is only written after the client joined the hub.
	relay := NewRelay(hub)
	require.NoError(t, relay.Handle(ctx, amqp091.Delivery{Type: contracts.EventCheckoutResolved, Body: body}))

	next := readUpdate(t, conn)
	assert.Equal(t, "success", next.Status)
	assert.Equal(t, "cs_1", next.SessionID)
}

func TestServeWSRejectsStrangersAndAnonymous(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	owner := uuid.New()
	srv := newTestServer(t, hub, sessions{
		"cs_1": {SessionID: "cs_1", UserID: owner, Status: checkout.StatusPending},
	})

	_, resp, err := dial(t, srv, "cs_1", uuid.New())
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, srv, "cs_1", uuid.Nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRelayDropsMalformedEvents(t *testing.T) {
	relay := NewRelay(NewHub())

	err := relay.Handle(context.Background(), amqp091.Delivery{Type: contracts.EventCheckoutResolved, Body: []byte("{")})
	assert.ErrorIs(t, err, messaging.ErrDrop)

	err = relay.Handle(context.Background(), amqp091.Delivery{Type: contracts.EventCheckoutResolved, Body: []byte(`{"event_id":"e1"}`)})
	assert.ErrorIs(t, err, messaging.ErrDrop)

	assert.NoError(t, relay.Handle(context.Background(), amqp091.Delivery{Type: "something.else", Body: []byte("{")}))
}

// staleSessions reports a pending session, and on the read made after the
// client joined it lets an update slip in first.
type staleSessions struct {
	owner uuid.UUID
	hub   *Hub
	calls atomic.Int32
}

func (s *staleSessions) SessionFor(ctx context.Context, user auth.Identity, sessionID string) (*checkout.Session, error) {
	if user.ID != s.owner {
		return nil, checkout.ErrSessionNotFound
	}
	if s.calls.Add(1) == 2 {
		s.hub.Broadcast(ctx, StatusUpdate{SessionID: sessionID, OrderID: "123456", Status: "success"})
	}
	return &checkout.Session{SessionID: sessionID, OrderID: "123456", UserID: s.owner, Status: checkout.StatusPending}, nil
}

func TestUpdateDuringConnectIsNotLostOrOverwritten(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	owner := uuid.New()
	lookup := &staleSessions{owner: owner, hub: hub}

	h := NewHandler(hub, lookup, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Get("/order/session/{sessionID}/ws", func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{ID: owner})))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := dial(t, srv, "cs_1", uuid.Nil)
	require.NoError(t, err)
	defer conn.Close()

	var statuses []string
	for {
		statuses = append(statuses, readUpdate(t, conn).Status)
		if statuses[len(statuses)-1] == "success" {
			break
		}
		require.Less(t, len(statuses), 3, "got %v", statuses)
	}

	// Nothing older may follow the update.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, int32(2), lookup.calls.Load())
}
