package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		CustomerEmail:      stripe.String(req.CustomerEmail),
		ClientReferenceID:  stripe.String(req.ClientReference),
	}
	params.Context = ctx

	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	return &Session{
		ID:              cs.ID,
		URL:             cs.URL,
		PaymentIntentID: intentID(cs.PaymentIntent),
		PaymentStatus:   string(cs.PaymentStatus),
		AmountTotal:     cs.AmountTotal,
	}, nil
}

// ParseEvent verifies the Stripe-Signature header against the raw body and
// decodes the event into one of the typed variants.
func (s *Stripe) ParseEvent(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	meta := Meta{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return Unhandled{Meta: meta}, nil
	}

	switch meta.Type {
	case TypeCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return CheckoutCompleted{
			Meta:            meta,
			SessionID:       cs.ID,
			PaymentIntentID: intentID(cs.PaymentIntent),
			PaymentStatus:   string(cs.PaymentStatus),
		}, nil

	case TypeAsyncPaymentFailed:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return AsyncPaymentFailed{Meta: meta, SessionID: cs.ID}, nil

	case TypePaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out := PaymentIntentFailed{Meta: meta, PaymentIntentID: pi.ID}
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
		return out, nil

	default:
		return Unhandled{Meta: meta}, nil
	}
}

func intentID(pi *stripe.PaymentIntent) *string {
	if pi == nil || pi.ID == "" {
		return nil
	}
	id := pi.ID
	return &id
}
