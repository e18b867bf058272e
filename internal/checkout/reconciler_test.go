package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/storefront/internal/checkout"
	"gozon/storefront/internal/checkout/checkouttest"
	"gozon/storefront/internal/order"
	"gozon/storefront/internal/payment"
	"gozon/storefront/pkg/contracts"
)

const webhookSecret = "whsec_test_secret"

type invalidations struct {
	users []uuid.UUID
}

func (i *invalidations) InvalidateUser(_ context.Context, userID uuid.UUID) error {
	i.users = append(i.users, userID)
	return nil
}

func completedEvent(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":%q,"object":"checkout.session","payment_intent":"pi_123","payment_status":"paid"}}}`,
		eventID, sessionID))
}

func failedEvent(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.async_payment_failed",
		"data":{"object":{"id":%q,"object":"checkout.session"}}}`,
		eventID, sessionID))
}

type reconcileFixture struct {
	*fixture
	cache      *invalidations
	reconciler *checkout.Reconciler
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	f := newFixture(t)
	cache := &invalidations{}
	return &reconcileFixture{
		fixture:    f,
		cache:      cache,
		reconciler: checkout.NewReconciler(payment.NewStripe("sk_test_unused", webhookSecret), f.store, cache, discard),
	}
}

func (f *reconcileFixture) deliver(t *testing.T, payload []byte) {
	t.Helper()
	require.NoError(t, f.reconciler.HandleWebhook(context.Background(), payload, checkouttest.Sign(webhookSecret, payload)))
}

func (f *reconcileFixture) checkoutMugs(t *testing.T, qty int64) *checkout.Result {
	t.Helper()
	res, err := f.svc.Create(context.Background(), f.buyer, f.cart(
		checkout.ItemRequest{ProductID: f.mug.ID, Quantity: qty},
	))
	require.NoError(t, err)
	return res
}

func TestCompletedPaymentCreatesOrderAndDecrementsStock(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 2)

	f.deliver(t, completedEvent("evt_1", res.SessionID))

	ps, err := f.store.SessionByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusSuccess, ps.Status)
	assert.Equal(t, "paid", ps.PaymentStatus)
	require.NotNil(t, ps.PaymentIntentID)
	assert.Equal(t, "pi_123", *ps.PaymentIntentID)

	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(8), stock)

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, res.OrderID, o.ID)
	assert.Equal(t, res.SessionID, o.SessionID)
	assert.Equal(t, f.buyer.ID, o.UserID)
	assert.Equal(t, order.StatusAccepted, o.Status)
	assert.Equal(t, int64(1000), o.Total)
	assert.Equal(t, "1 Main St", o.Address)
	assert.Equal(t, ps.Items, o.Items)

	outbox := f.store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, contracts.EventCheckoutResolved, outbox[0].EventType)
	var evt contracts.CheckoutResolvedEvent
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &evt))
	assert.Equal(t, contracts.CheckoutSucceeded, evt.Status)
	assert.Equal(t, res.OrderID, evt.OrderID)
	assert.Equal(t, outbox[0].EventID, evt.EventID)

	assert.Equal(t, []uuid.UUID{f.buyer.ID}, f.cache.users)
}

func TestDuplicateDeliveryAppliedOnce(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 2)

	payload := completedEvent("evt_1", res.SessionID)
	f.deliver(t, payload)
	f.deliver(t, payload)
	// A redelivery under a new event id is caught by the session status.
	f.deliver(t, completedEvent("evt_2", res.SessionID))

	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(8), stock)
	assert.Len(t, f.store.Orders(), 1)
	assert.Len(t, f.store.Outbox(), 1)
}

func TestFailedPaymentMarksSessionOnly(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 2)

	f.deliver(t, failedEvent("evt_f", res.SessionID))

	ps, err := f.store.SessionByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, ps.Status)
	assert.Equal(t, "failed", ps.PaymentStatus)

	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(10), stock)
	assert.Empty(t, f.store.Orders())

	outbox := f.store.Outbox()
	require.Len(t, outbox, 1)
	var evt contracts.CheckoutResolvedEvent
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &evt))
	assert.Equal(t, contracts.CheckoutFailed, evt.Status)
	assert.Empty(t, f.cache.users)
}

func TestFailedSessionCannotSucceedLater(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 1)

	f.deliver(t, failedEvent("evt_f", res.SessionID))
	f.deliver(t, completedEvent("evt_c", res.SessionID))

	ps, err := f.store.SessionByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, ps.Status)
	assert.Empty(t, f.store.Orders())

	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(10), stock)
}

func TestApplyReportsIllegalTransition(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 1)

	require.NoError(t, f.reconciler.Apply(context.Background(), payment.AsyncPaymentFailed{
		Meta: payment.Meta{ID: "evt_f", Type: payment.TypeAsyncPaymentFailed}, SessionID: res.SessionID,
	}))

	err := f.reconciler.Apply(context.Background(), payment.CheckoutCompleted{
		Meta: payment.Meta{ID: "evt_c", Type: payment.TypeCheckoutCompleted}, SessionID: res.SessionID,
	})
	var terr *checkout.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, checkout.StatusFailed, terr.From)
	assert.Equal(t, checkout.StatusSuccess, terr.To)
}

func TestUnknownSessionIsLoggedAndAcknowledged(t *testing.T) {
	f := newReconcileFixture(t)

	f.deliver(t, completedEvent("evt_1", "cs_unknown"))
	assert.Empty(t, f.store.Orders())

	err := f.reconciler.Apply(context.Background(), payment.CheckoutCompleted{
		Meta: payment.Meta{ID: "evt_2", Type: payment.TypeCheckoutCompleted}, SessionID: "cs_unknown",
	})
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 2)
	payload := completedEvent("evt_1", res.SessionID)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", checkouttest.Sign("whsec_other", payload)},
		{"garbage", "t=1,v1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.reconciler.HandleWebhook(context.Background(), payload, tt.signature)
			require.ErrorIs(t, err, checkout.ErrInvalidWebhook)
		})
	}

	ps, err := f.store.SessionByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusPending, ps.Status)
	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(10), stock)
	assert.Empty(t, f.store.Orders())
}

func TestDeletedProductIsSkipped(t *testing.T) {
	f := newReconcileFixture(t)
	res, err := f.svc.Create(context.Background(), f.buyer, f.cart(
		checkout.ItemRequest{ProductID: f.mug.ID, Quantity: 1},
		checkout.ItemRequest{ProductID: f.lamp.ID, Quantity: 1},
	))
	require.NoError(t, err)

	// Rebuild the store state without the lamp, as if it was deleted after checkout.
	gone := checkouttest.NewStore()
	for _, ps := range f.store.Sessions() {
		require.NoError(t, gone.CreateSession(context.Background(), &ps))
	}
	gone.SetStock(f.mug.ID, 10)
	r := checkout.NewReconciler(payment.NewStripe("sk_test_unused", webhookSecret), gone, nil, discard)

	payload := completedEvent("evt_1", res.SessionID)
	require.NoError(t, r.HandleWebhook(context.Background(), payload, checkouttest.Sign(webhookSecret, payload)))

	stock, _ := gone.Stock(f.mug.ID)
	assert.Equal(t, int64(9), stock)
	orders := gone.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(3000), orders[0].Total)
}

func TestOversellGoesNegative(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 12)

	f.deliver(t, completedEvent("evt_1", res.SessionID))

	stock, _ := f.store.Stock(f.mug.ID)
	assert.Equal(t, int64(-2), stock)
	assert.Len(t, f.store.Orders(), 1)
}

func TestUnhandledEventsAreIgnored(t *testing.T) {
	f := newReconcileFixture(t)
	res := f.checkoutMugs(t, 1)

	payload := []byte(`{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	f.deliver(t, payload)

	intentFailed := []byte(`{"id":"evt_p","object":"event","type":"payment_intent.payment_failed",
		"data":{"object":{"id":"pi_9","object":"payment_intent","last_payment_error":{"message":"card declined"}}}}`)
	f.deliver(t, intentFailed)

	ps, err := f.store.SessionByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusPending, ps.Status)
	assert.Empty(t, f.store.Outbox())
}

func TestStockIsDecrementedInProductIDOrder(t *testing.T) {
	f := newReconcileFixture(t)

	first, second := f.mug.ID, f.lamp.ID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	forward, err := f.svc.Create(context.Background(), f.buyer, f.cart(
		checkout.ItemRequest{ProductID: f.mug.ID, Quantity: 1},
		checkout.ItemRequest{ProductID: f.lamp.ID, Quantity: 1},
	))
	require.NoError(t, err)
	reverse, err := f.svc.Create(context.Background(), f.buyer, f.cart(
		checkout.ItemRequest{ProductID: f.lamp.ID, Quantity: 1},
		checkout.ItemRequest{ProductID: f.mug.ID, Quantity: 1},
	))
	require.NoError(t, err)

	f.deliver(t, completedEvent("evt_1", forward.SessionID))
	f.deliver(t, completedEvent("evt_2", reverse.SessionID))

	assert.Equal(t, []uuid.UUID{first, second, first, second}, f.store.Decrements())

	// The stored snapshot keeps the cart order.
	ps, err := f.store.SessionByID(context.Background(), reverse.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.lamp.ID, ps.Items[0].ProductID)
}
