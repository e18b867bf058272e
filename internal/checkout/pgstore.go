package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gozon/storefront/internal/order"
)

const pgUniqueViolation = "23505"

// PgStore keeps payment sessions in PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const sessionColumns = `order_id, session_id, payment_intent_id, user_id, user_email, status,
	payment_status, total, currency, items, address, phone, created_at, updated_at`

func (s *PgStore) CreateSession(ctx context.Context, ps *Session) error {
	items, err := json.Marshal(ps.Items)
	if err != nil {
		return fmt.Errorf("marshal session items: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ps.OrderID, ps.SessionID, ps.PaymentIntentID, ps.UserID, ps.UserEmail, ps.Status,
		ps.PaymentStatus, ps.Total, ps.Currency, items, ps.Address, ps.Phone, ps.CreatedAt, ps.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "payment_sessions_pkey" {
			return ErrOrderIDTaken
		}
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

func (s *PgStore) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	ps, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	return ps, nil
}

func (s *PgStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		ps    Session
		items []byte
	)
	if err := row.Scan(&ps.OrderID, &ps.SessionID, &ps.PaymentIntentID, &ps.UserID, &ps.UserEmail, &ps.Status,
		&ps.PaymentStatus, &ps.Total, &ps.Currency, &items, &ps.Address, &ps.Phone, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &ps.Items); err != nil {
		return nil, fmt.Errorf("decode session items: %w", err)
	}
	return &ps, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO webhook_inbox (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t pgTx) Transition(ctx context.Context, sessionID string, to Status, paymentStatus string, paymentIntentID *string) (*Session, error) {
	ps, err := scanSession(t.tx.QueryRow(ctx, `
		UPDATE payment_sessions
		SET status = $2,
		    payment_status = $3,
		    payment_intent_id = COALESCE($4, payment_intent_id),
		    updated_at = NOW()
		WHERE session_id = $1 AND status = 'pending'
		RETURNING `+sessionColumns,
		sessionID, to, paymentStatus, paymentIntentID,
	))
	if err == nil {
		return ps, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition payment session: %w", err)
	}

	var current Status
	err = t.tx.QueryRow(ctx, `
		SELECT status
		FROM payment_sessions
		WHERE session_id = $1`, sessionID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("select session status: %w", err)
	}
	if current == to {
		return nil, ErrAlreadyApplied
	}
	return nil, &TransitionError{SessionID: sessionID, From: current, To: to}
}

func (t pgTx) DecrementStock(ctx context.Context, productID uuid.UUID, qty int64) (int64, error) {
	var left int64
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock`, productID, qty,
	).Scan(&left)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductGone
		}
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return left, nil
}

func (t pgTx) CreateOrder(ctx context.Context, o *order.Order) error {
	return order.Insert(ctx, t.tx, o)
}

func (t pgTx) Enqueue(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO checkout_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		eventID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
