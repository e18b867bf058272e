package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"gozon/storefront/internal/order"
	"gozon/storefront/internal/payment"
	"gozon/storefront/pkg/contracts"
)

type EventParser interface {
	ParseEvent(payload []byte, signature string) (payment.Event, error)
}

// Invalidator drops cached per-user order lists.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

type Reconciler struct {
	parser EventParser
	store  Store
	cache  Invalidator
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciler(parser EventParser, store Store, cache Invalidator, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		parser: parser,
		store:  store,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook verifies and applies one provider delivery. Only a failed
// verification is returned; once the body is authentic the delivery is
// acknowledged and processing errors are logged.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := r.parser.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			r.logger.Warn("webhook rejected", "err", err)
			return ErrInvalidWebhook
		}
		r.logger.Error("webhook decode failed", "err", err)
		return nil
	}

	err = r.Apply(ctx, evt)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		r.logger.Warn("webhook for unknown payment session",
			"event_id", evt.EventID(), "event_type", evt.EventType(), "err", err)
	default:
		r.logger.Error("webhook processing failed",
			"event_id", evt.EventID(), "event_type", evt.EventType(), "err", err)
	}
	return nil
}

func (r *Reconciler) Apply(ctx context.Context, evt payment.Event) error {
	switch e := evt.(type) {
	case payment.CheckoutCompleted:
		return r.complete(ctx, e)
	case payment.AsyncPaymentFailed:
		return r.fail(ctx, e)
	case payment.PaymentIntentFailed:
		r.logger.Warn("payment intent failed",
			"event_id", e.ID, "payment_intent_id", e.PaymentIntentID, "reason", e.FailureMessage)
		return nil
	default:
		r.logger.Debug("ignoring webhook event", "event_id", evt.EventID(), "event_type", evt.EventType())
		return nil
	}
}

func (r *Reconciler) complete(ctx context.Context, e payment.CheckoutCompleted) error {
	var (
		created *order.Order
		skipped bool
	)

	err := r.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, e.ID, e.Type)
		if err != nil {
			return err
		}
		if !fresh {
			skipped = true
			return nil
		}

		session, err := tx.Transition(ctx, e.SessionID, StatusSuccess, "paid", e.PaymentIntentID)
		if errors.Is(err, ErrAlreadyApplied) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}

		for _, it := range byProductID(session.Items) {
			left, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, ErrProductGone) {
				r.logger.Warn("product removed before payment confirmed, skipping stock update",
					"session_id", session.SessionID, "product_id", it.ProductID)
				continue
			}
			if err != nil {
				return err
			}
			if left < 0 {
				r.logger.Warn("stock oversold", "product_id", it.ProductID, "stock", left)
			}
		}

		now := r.now()
		created = order.New(session.OrderID, session.SessionID, session.UserID, session.Items,
			session.Total, session.Address, session.Phone, now)
		if err := tx.CreateOrder(ctx, created); err != nil {
			return err
		}

		return enqueueResolved(ctx, tx, session, contracts.CheckoutSucceeded, now)
	})
	if err != nil {
		return fmt.Errorf("complete session %s: %w", e.SessionID, err)
	}
	if skipped {
		r.logger.Info("duplicate completion ignored", "event_id", e.ID, "session_id", e.SessionID)
		return nil
	}

	if r.cache != nil {
		if err := r.cache.InvalidateUser(ctx, created.UserID); err != nil {
			r.logger.Warn("order cache invalidation failed", "user_id", created.UserID, "err", err)
		}
	}
	r.logger.Info("order created",
		"order_id", created.ID, "session_id", created.SessionID, "user_id", created.UserID, "total", created.Total)
	return nil
}

func (r *Reconciler) fail(ctx context.Context, e payment.AsyncPaymentFailed) error {
	var skipped bool

	err := r.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, e.ID, e.Type)
		if err != nil {
			return err
		}
		if !fresh {
			skipped = true
			return nil
		}

		session, err := tx.Transition(ctx, e.SessionID, StatusFailed, "failed", nil)
		if errors.Is(err, ErrAlreadyApplied) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}

		return enqueueResolved(ctx, tx, session, contracts.CheckoutFailed, r.now())
	})
	if err != nil {
		return fmt.Errorf("fail session %s: %w", e.SessionID, err)
	}
	if !skipped {
		r.logger.Info("payment failed", "session_id", e.SessionID)
	}
	return nil
}

// byProductID returns items sorted by product id. Concurrent reconciliations
// lock product rows in this order so they cannot deadlock each other.
func byProductID(items []order.LineItem) []order.LineItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b order.LineItem) int {
		return bytes.Compare(a.ProductID[:], b.ProductID[:])
	})
	return sorted
}

func enqueueResolved(ctx context.Context, tx Tx, s *Session, status contracts.CheckoutStatus, at time.Time) error {
	evt := contracts.CheckoutResolvedEvent{
		EventID:    uuid.NewString(),
		SessionID:  s.SessionID,
		OrderID:    s.OrderID,
		UserID:     s.UserID.String(),
		Total:      s.Total,
		Status:     status,
		ResolvedAt: at,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}
	return tx.Enqueue(ctx, evt.EventID, contracts.EventCheckoutResolved, payload)
}
