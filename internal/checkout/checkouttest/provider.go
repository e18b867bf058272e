package checkouttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"

	"gozon/storefront/internal/catalog"
	"gozon/storefront/internal/payment"
)

// Provider records hosted checkout requests and hands out fake sessions.
type Provider struct {
	mu       sync.Mutex
	Err      error
	Requests []payment.SessionRequest
}

func (p *Provider) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	id := fmt.Sprintf("cs_test_%d", len(p.Requests))
	return &payment.Session{
		ID:            id,
		URL:           "https://checkout.stripe.test/pay/" + id,
		PaymentStatus: "unpaid",
	}, nil
}

// Catalog serves products by id. Like an ANY($1) query, repeated ids match once.
type Catalog struct {
	Products map[uuid.UUID]catalog.Product
	Err      error
}

func (c *Catalog) FindByIDs(_ context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]catalog.Product, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if p, ok := c.Products[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Sign returns a valid Stripe-Signature header for payload.
func Sign(secret string, payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Header
}
