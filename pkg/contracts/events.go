package contracts

import "time"

const (
	EventCheckoutResolved = "checkout.resolved"
)

type CheckoutStatus string

const (
	CheckoutSucceeded CheckoutStatus = "success"
	CheckoutFailed    CheckoutStatus = "failed"
)

// CheckoutResolvedEvent is published once a payment session reaches a terminal state.
// OrderID is the internal order number and is set for both outcomes.
type CheckoutResolvedEvent struct {
	EventID    string         `json:"event_id"`
	SessionID  string         `json:"session_id"`
	OrderID    string         `json:"order_id"`
	UserID     string         `json:"user_id"`
	Total      int64          `json:"total"`
	Status     CheckoutStatus `json:"status"`
	ResolvedAt time.Time      `json:"resolved_at"`
}
