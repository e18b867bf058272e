package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gozon/storefront/internal/checkout"
	"gozon/storefront/internal/order"
)

func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "decode checkout", err)
		return
	}

	res, err := s.deps.Checkout.Create(r.Context(), identity(r), req)
	if err != nil {
		s.fail(w, r, "create checkout", err)
		return
	}
	writeJSON(w, http.StatusCreated, "checkout session created", res)
}

// stripeWebhook needs the body byte-for-byte as sent; the signature covers it.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	err = s.deps.Webhooks.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, checkout.ErrInvalidWebhook) {
		writeError(w, http.StatusBadRequest, "webhook error: invalid signature")
		return
	}
	if err != nil {
		s.logger.Error("stripe webhook", "err", err)
	}
	writeJSON(w, http.StatusOK, "received", map[string]bool{"received": true})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Checkout.SessionFor(r.Context(), identity(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, "get payment session", err)
		return
	}
	writeJSON(w, http.StatusOK, "payment session fetched", ps)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	status := order.Status(r.URL.Query().Get("status"))
	orders, err := s.deps.Orders.List(r.Context(), status)
	if err != nil {
		s.fail(w, r, "list orders", err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(w, http.StatusOK, "orders fetched", orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, "order fetched", o)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var in order.StatusUpdate
	if err := decode(r, &in); err != nil {
		s.fail(w, r, "decode order status", err)
		return
	}

	o, err := s.deps.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), in)
	if err != nil {
		s.fail(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, "order status updated", o)
}

func (s *Server) userOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListForUser(r.Context(), identity(r).ID)
	if err != nil {
		s.fail(w, r, "list user orders", err)
		return
	}
	writeJSON(w, http.StatusOK, "orders fetched", orders)
}
