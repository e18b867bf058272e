package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/auth"
	"gozon/storefront/internal/catalog"
	"gozon/storefront/internal/checkout"
	"gozon/storefront/internal/order"
)

const maxWebhookBody = 64 << 10

type Catalog interface {
	CreateCategory(ctx context.Context, in catalog.NewCategory) (*catalog.Category, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	CategoryBySlug(ctx context.Context, slug string) (*catalog.Category, error)
	UpdateCategory(ctx context.Context, slug string, in catalog.CategoryUpdate) (*catalog.Category, error)
	DeleteCategory(ctx context.Context, slug string) error
	CreateProduct(ctx context.Context, sellerID uuid.UUID, in catalog.NewProduct) (*catalog.Product, error)
	ListProducts(ctx context.Context, f catalog.ProductFilter) (*catalog.ProductPage, error)
	ProductBySlug(ctx context.Context, slug string) (*catalog.Product, error)
	UpdateProduct(ctx context.Context, slug string, in catalog.ProductUpdate) (*catalog.Product, error)
	DeleteProduct(ctx context.Context, slug string) error
}

type Orders interface {
	List(ctx context.Context, status order.Status) ([]order.Order, error)
	Get(ctx context.Context, orderID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID string, in order.StatusUpdate) (*order.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
}

type Checkout interface {
	Create(ctx context.Context, user auth.Identity, req checkout.Request) (*checkout.Result, error)
	SessionFor(ctx context.Context, user auth.Identity, sessionID string) (*checkout.Session, error)
}

type Webhooks interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Authenticator interface {
	FromRequest(r *http.Request) (auth.Identity, error)
}

type Deps struct {
	Catalog  Catalog
	Orders   Orders
	Checkout Checkout
	Webhooks Webhooks
	Auth     Authenticator
	// SessionWS serves the payment session status stream. Optional.
	SessionWS http.HandlerFunc
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "ok", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/order", func(r chi.Router) {
			r.Post("/stripe/webhook", s.stripeWebhook)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Post("/create", s.createCheckout)
				r.Get("/session/{sessionID}", s.getSession)
				if s.deps.SessionWS != nil {
					r.Get("/session/{sessionID}/ws", s.deps.SessionWS)
				}
			})

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate, requireRole(auth.RoleAdmin))
				r.Get("/get-all", s.listOrders)
				r.Get("/{orderID}", s.getOrder)
				r.Patch("/{orderID}", s.updateOrderStatus)
			})
		})

		r.With(s.authenticate).Get("/user/orders", s.userOrders)

		r.Route("/category", func(r chi.Router) {
			r.Get("/get-all-categories", s.listCategories)
			r.Get("/get-category/{slug}", s.getCategory)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate, requireRole(auth.RoleAdmin))
				r.Post("/create", s.createCategory)
				r.Patch("/update-category/{slug}", s.updateCategory)
				r.Delete("/delete-category/{slug}", s.deleteCategory)
			})
		})

		r.Route("/product", func(r chi.Router) {
			r.Get("/get-all-products", s.listProducts)
			r.Get("/get-product/{slug}", s.getProduct)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate, requireRole(auth.RoleAdmin))
				r.Post("/create", s.createProduct)
				r.Patch("/update-product/{slug}", s.updateProduct)
				r.Delete("/delete-product/{slug}", s.deleteProduct)
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msg, nil)
}

// fail maps err onto the response. Server-side failures are logged with the
// cause; the caller only sees the safe message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeError(w, status, msg)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Wrap(apperr.Validation("invalid JSON body"), err)
	}
	return nil
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
