// Package checkouttest provides in-memory collaborators for checkout tests.
package checkouttest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gozon/storefront/internal/checkout"
	"gozon/storefront/internal/order"
)

type OutboxEntry struct {
	EventID   string
	EventType string
	Payload   []byte
}

type state struct {
	sessions map[string]checkout.Session
	stock    map[uuid.UUID]int64
	orders   map[string]order.Order
	inbox    map[string]string
	outbox   []OutboxEntry

	// decrements lists product ids in the order their stock was changed.
	decrements []uuid.UUID
}

func (s *state) clone() *state {
	c := &state{
		sessions: make(map[string]checkout.Session, len(s.sessions)),
		stock:    make(map[uuid.UUID]int64, len(s.stock)),
		orders:   make(map[string]order.Order, len(s.orders)),
		inbox:    make(map[string]string, len(s.inbox)),
		outbox:   append([]OutboxEntry(nil), s.outbox...),

		decrements: append([]uuid.UUID(nil), s.decrements...),
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.inbox {
		c.inbox[k] = v
	}
	return c
}

// Store is an in-memory checkout.Store. InTx works on a copy of the state and
// swaps it in only when fn succeeds.
type Store struct {
	mu sync.Mutex
	st *state

	// CreateErrs are returned by successive CreateSession calls before the
	// store starts accepting sessions.
	CreateErrs []error
}

func NewStore() *Store {
	return &Store{st: &state{
		sessions: map[string]checkout.Session{},
		stock:    map[uuid.UUID]int64{},
		orders:   map[string]order.Order{},
		inbox:    map[string]string{},
	}}
}

func (s *Store) SetStock(productID uuid.UUID, stock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.stock[productID] = stock
}

func (s *Store) Stock(productID uuid.UUID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.stock[productID]
	return v, ok
}

func (s *Store) Sessions() []checkout.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]checkout.Session, 0, len(s.st.sessions))
	for _, v := range s.st.sessions {
		out = append(out, v)
	}
	return out
}

func (s *Store) Orders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.Order, 0, len(s.st.orders))
	for _, v := range s.st.orders {
		out = append(out, v)
	}
	return out
}

// Decrements returns product ids in the order committed transactions
// changed their stock.
func (s *Store) Decrements() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.st.decrements...)
}

func (s *Store) Outbox() []OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboxEntry(nil), s.st.outbox...)
}

func (s *Store) CreateSession(_ context.Context, ps *checkout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.CreateErrs) > 0 {
		err := s.CreateErrs[0]
		s.CreateErrs = s.CreateErrs[1:]
		return err
	}
	for _, existing := range s.st.sessions {
		if existing.OrderID == ps.OrderID {
			return checkout.ErrOrderIDTaken
		}
	}
	s.st.sessions[ps.SessionID] = *ps
	return nil
}

func (s *Store) SessionByID(_ context.Context, sessionID string) (*checkout.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.st.sessions[sessionID]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return &ps, nil
}

func (s *Store) InTx(_ context.Context, fn func(checkout.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.st.inbox[eventID]; ok {
		return false, nil
	}
	t.st.inbox[eventID] = eventType
	return true, nil
}

func (t *tx) Transition(_ context.Context, sessionID string, to checkout.Status, paymentStatus string, paymentIntentID *string) (*checkout.Session, error) {
	ps, ok := t.st.sessions[sessionID]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	if ps.Status != checkout.StatusPending {
		if ps.Status == to {
			return nil, checkout.ErrAlreadyApplied
		}
		return nil, &checkout.TransitionError{SessionID: sessionID, From: ps.Status, To: to}
	}
	ps.Status = to
	ps.PaymentStatus = paymentStatus
	if paymentIntentID != nil {
		ps.PaymentIntentID = paymentIntentID
	}
	t.st.sessions[sessionID] = ps
	return &ps, nil
}

func (t *tx) DecrementStock(_ context.Context, productID uuid.UUID, qty int64) (int64, error) {
	v, ok := t.st.stock[productID]
	if !ok {
		return 0, checkout.ErrProductGone
	}
	v -= qty
	t.st.stock[productID] = v
	t.st.decrements = append(t.st.decrements, productID)
	return v, nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	for _, existing := range t.st.orders {
		if existing.SessionID == o.SessionID {
			return checkout.ErrOrderIDTaken
		}
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) Enqueue(_ context.Context, eventID, eventType string, payload []byte) error {
	t.st.outbox = append(t.st.outbox, OutboxEntry{EventID: eventID, EventType: eventType, Payload: payload})
	return nil
}
