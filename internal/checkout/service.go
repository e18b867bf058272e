package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/auth"
	"gozon/storefront/internal/catalog"
	"gozon/storefront/internal/order"
	"gozon/storefront/internal/payment"
	"gozon/storefront/internal/validation"
)

const orderIDAttempts = 5

type ProductFinder interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error)
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

type ItemRequest struct {
	ProductID uuid.UUID `json:"product" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"required,min=1"`
}

type Request struct {
	Items   []ItemRequest `json:"products" validate:"required,min=1,dive"`
	Address string        `json:"address" validate:"required"`
	Phone   string        `json:"phone" validate:"required"`
}

type Result struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
}

type Options struct {
	Currency    string
	FrontendURL string
}

type Service struct {
	products ProductFinder
	provider SessionCreator
	store    Store
	opts     Options
	logger   *slog.Logger

	now        func() time.Time
	newOrderID func() string
}

func NewService(products ProductFinder, provider SessionCreator, store Store, opts Options, logger *slog.Logger) *Service {
	return &Service{
		products:   products,
		provider:   provider,
		store:      store,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newOrderID: randomOrderID,
	}
}

// randomOrderID returns a six digit order number.
func randomOrderID() string {
	return strconv.Itoa(100000 + rand.Intn(900000))
}

// Create prices the cart from the catalog, opens a hosted checkout session and
// records it as pending. Stock is not touched until the payment is confirmed.
func (s *Service) Create(ctx context.Context, user auth.Identity, req Request) (*Result, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}

	found, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load products: %w", err))
	}
	// A repeated id resolves to one product, so it fails the count check too.
	if len(found) != len(req.Items) {
		return nil, ErrInvalidProduct
	}
	byID := make(map[uuid.UUID]catalog.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	items := make([]order.LineItem, 0, len(req.Items))
	lines := make([]payment.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, ErrInvalidProduct
		}
		items = append(items, order.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
		line := payment.LineItem{Name: p.Name, UnitAmount: p.Price, Quantity: it.Quantity}
		if len(p.Images) > 0 {
			line.Image = p.Images[0]
		}
		lines = append(lines, line)
	}
	total := order.Total(items)

	orderID := s.newOrderID()
	frontend := strings.TrimRight(s.opts.FrontendURL, "/")
	ps, err := s.provider.CreateSession(ctx, payment.SessionRequest{
		Items:           lines,
		Currency:        s.opts.Currency,
		SuccessURL:      frontend + "/order/success",
		CancelURL:       frontend + "/order/cancel",
		CustomerEmail:   user.Email,
		ClientReference: user.ID.String(),
		Metadata: map[string]string{
			"user_id":  user.ID.String(),
			"order_id": orderID,
		},
	})
	if err != nil {
		return nil, apperr.Upstream("payment provider unavailable", err)
	}

	now := s.now()
	session := &Session{
		OrderID:         orderID,
		SessionID:       ps.ID,
		PaymentIntentID: ps.PaymentIntentID,
		UserID:          user.ID,
		UserEmail:       user.Email,
		Status:          StatusPending,
		PaymentStatus:   ps.PaymentStatus,
		Total:           total,
		Currency:        s.opts.Currency,
		Items:           items,
		Address:         req.Address,
		Phone:           req.Phone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The order number sent in metadata is informational; a collision only
	// changes the stored one.
	for attempt := 1; ; attempt++ {
		err = s.store.CreateSession(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOrderIDTaken) || attempt == orderIDAttempts {
			return nil, apperr.Internal(fmt.Errorf("persist payment session %s: %w", ps.ID, err))
		}
		s.logger.Warn("order id collision, regenerating", "order_id", session.OrderID, "attempt", attempt)
		session.OrderID = s.newOrderID()
	}

	s.logger.Info("checkout session created",
		"session_id", session.SessionID, "order_id", session.OrderID, "user_id", user.ID, "total", total)

	return &Result{URL: ps.URL, SessionID: session.SessionID, OrderID: session.OrderID}, nil
}

// SessionFor returns a session visible to user. Other users' sessions are
// reported as not found; admins see every session.
func (s *Service) SessionFor(ctx context.Context, user auth.Identity, sessionID string) (*Session, error) {
	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != user.ID && !user.IsAdmin() {
		return nil, ErrSessionNotFound
	}
	return session, nil
}
