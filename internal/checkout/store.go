package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"gozon/storefront/internal/order"
)

var (
	// ErrOrderIDTaken is returned by CreateSession when the generated order
	// number collides with an existing one.
	ErrOrderIDTaken = errors.New("order id already taken")

	// ErrAlreadyApplied is returned by Transition when the session is already
	// in the requested terminal state.
	ErrAlreadyApplied = errors.New("transition already applied")

	// ErrProductGone is returned by DecrementStock when the product was
	// deleted after checkout.
	ErrProductGone = errors.New("product no longer exists")
)

type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	SessionByID(ctx context.Context, sessionID string) (*Session, error)
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the unit of work used by reconciliation. Everything done through one
// Tx commits or rolls back together.
type Tx interface {
	// MarkEventProcessed records a provider event id and reports whether it
	// was new.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)

	// Transition moves a pending session to the target status. It returns
	// ErrSessionNotFound, ErrAlreadyApplied or a *TransitionError when the
	// session is not pending.
	Transition(ctx context.Context, sessionID string, to Status, paymentStatus string, paymentIntentID *string) (*Session, error)

	// DecrementStock subtracts qty and returns the remaining stock, which
	// may be negative.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int64) (int64, error)

	CreateOrder(ctx context.Context, o *order.Order) error

	Enqueue(ctx context.Context, eventID, eventType string, payload []byte) error
}
