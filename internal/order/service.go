package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gozon/storefront/internal/apperr"
	"gozon/storefront/internal/validation"
)

var (
	ErrOrderNotFound = apperr.NotFound("order not found")
)

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Cache stores per-user order lists. A nil Cache disables caching.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	pool   *pgxpool.Pool
	cache  Cache
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, cache Cache, logger *slog.Logger) *Service {
	return &Service{pool: pool, cache: cache, logger: logger}
}

// Insert writes o using db, which is usually the reconciliation transaction.
func Insert(ctx context.Context, db Execer, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO orders (id, session_id, user_id, items, total, address, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.SessionID, o.UserID, items, o.Total, o.Address, o.Phone, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, session_id, user_id, items, total, address, phone, status, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		items []byte
	)
	if err := row.Scan(&o.ID, &o.SessionID, &o.UserID, &items, &o.Total, &o.Address, &o.Phone,
		&o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("decode order items: %w", err)
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
}

// List returns every order, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return collectOrders(rows)
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

type StatusUpdate struct {
	Status Status `json:"status" validate:"required,oneof=accepted processing shipped delivered cancelled"`
}

func (s *Service) UpdateStatus(ctx context.Context, orderID string, in StatusUpdate) (*Order, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+orderColumns, orderID, in.Status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	s.dropCached(ctx, o.UserID)
	return &o, nil
}

func userOrdersKey(userID uuid.UUID) string {
	return "orders:user:" + userID.String()
}

// ListForUser serves the caller's orders, read through the cache.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	key := userOrdersKey(userID)
	if s.cache != nil {
		var cached []Order
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("order cache read failed", "user_id", userID, "err", err)
		} else if hit {
			return cached, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []Order{}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, orders); err != nil {
			s.logger.Warn("order cache write failed", "user_id", userID, "err", err)
		}
	}
	return orders, nil
}

// InvalidateUser drops the cached order list so the next read hits the database.
func (s *Service) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, userOrdersKey(userID))
}

func (s *Service) dropCached(ctx context.Context, userID uuid.UUID) {
	if err := s.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("order cache invalidation failed", "user_id", userID, "err", err)
	}
}
