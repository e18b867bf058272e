package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"gozon/storefront/pkg/contracts"
	"gozon/storefront/pkg/messaging"
)

// Relay turns checkout events from the broker into hub broadcasts. Its Handle
// method is a messaging.Handler.
type Relay struct {
	hub *Hub
}

func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

func (r *Relay) Handle(ctx context.Context, msg amqp091.Delivery) error {
	if msg.Type != "" && msg.Type != contracts.EventCheckoutResolved {
		return nil
	}

	var evt contracts.CheckoutResolvedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("%w: decode checkout event: %v", messaging.ErrDrop, err)
	}
	if evt.SessionID == "" {
		return fmt.Errorf("%w: checkout event %s has no session id", messaging.ErrDrop, evt.EventID)
	}

	r.hub.Broadcast(ctx, StatusUpdate{
		SessionID: evt.SessionID,
		OrderID:   evt.OrderID,
		Status:    string(evt.Status),
	})
	return nil
}
