package payment

import "errors"

// ErrInvalidSignature means a webhook body could not be authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type LineItem struct {
	Name       string
	Image      string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	Items           []LineItem
	Currency        string
	SuccessURL      string
	CancelURL       string
	CustomerEmail   string
	ClientReference string
	Metadata        map[string]string
}

// Session is a hosted checkout page. PaymentIntentID is nil until the
// provider has created the intent.
type Session struct {
	ID              string
	URL             string
	PaymentIntentID *string
	PaymentStatus   string
	AmountTotal     int64
}

const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	TypePaymentIntentFailed = "payment_intent.payment_failed"
)

// Event is one verified provider notification. The concrete type is one of
// CheckoutCompleted, AsyncPaymentFailed, PaymentIntentFailed or Unhandled.
type Event interface {
	EventID() string
	EventType() string
}

type Meta struct {
	ID   string
	Type string
}

func (m Meta) EventID() string   { return m.ID }
func (m Meta) EventType() string { return m.Type }

type CheckoutCompleted struct {
	Meta
	SessionID       string
	PaymentIntentID *string
	PaymentStatus   string
}

type AsyncPaymentFailed struct {
	Meta
	SessionID string
}

type PaymentIntentFailed struct {
	Meta
	PaymentIntentID string
	FailureMessage  string
}

// Unhandled is any event type the store does not act on.
type Unhandled struct {
	Meta
}
