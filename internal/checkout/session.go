package checkout

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/order"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Session tracks one checkout attempt. Items, Total, Address and Phone are
// fixed when the session is created and never re-read from the catalog.
type Session struct {
	OrderID         string           `json:"order_id"`
	SessionID       string           `json:"session_id"`
	PaymentIntentID *string          `json:"payment_intent_id"`
	UserID          uuid.UUID        `json:"user_id"`
	UserEmail       string           `json:"user_email"`
	Status          Status           `json:"status"`
	PaymentStatus   string           `json:"payment_status"`
	Total           int64            `json:"total"`
	Currency        string           `json:"currency"`
	Items           []order.LineItem `json:"products"`
	Address         string           `json:"address"`
	Phone           string           `json:"phone"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

var (
	ErrSessionNotFound = apperr.NotFound("payment session not found")
	ErrInvalidProduct  = apperr.NotFound("invalid product found")
	ErrInvalidWebhook  = apperr.Validation("invalid webhook signature")
)

// TransitionError reports a status change the state machine does not allow,
// such as failed -> success.
type TransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}
