package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxRow is a committed event waiting to be published.
type OutboxRow struct {
	ID        int64
	EventID   string
	EventType string
	Payload   []byte
	Attempts  int
}

// OutboxStore claims and settles outbox rows. Claimed rows stay invisible to
// other dispatchers until their lease expires.
type OutboxStore interface {
	Claim(ctx context.Context, batch int, lease time.Duration) ([]OutboxRow, error)
	MarkSent(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, next time.Time) error
}

type OutboxDispatcher struct {
	store     OutboxStore
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewOutboxDispatcher(store OutboxStore, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

func (d *OutboxDispatcher) Start(ctx context.Context) {
	go d.loop(ctx)
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Dispatch(ctx); err != nil {
			d.logger.Error("outbox dispatch failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch publishes one batch and returns how many rows were sent.
func (d *OutboxDispatcher) Dispatch(ctx context.Context) (int, error) {
	rows, err := d.store.Claim(ctx, d.batchSize, 30*time.Second)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if err := d.publishOne(ctx, row); err != nil {
			d.logger.Warn("publish event failed", "row_id", row.ID, "event_id", row.EventID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, row OutboxRow) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := d.publisher.Publish(pubCtx, Message{ID: row.EventID, Type: row.EventType, Body: row.Payload})
	if err != nil {
		next := time.Now().Add(retryDelay(row.Attempts + 1))
		if markErr := d.store.MarkRetry(ctx, row.ID, next); markErr != nil {
			return fmt.Errorf("update retry: %w", markErr)
		}
		return err
	}

	return d.store.MarkSent(ctx, row.ID)
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// PgOutbox is the PostgreSQL OutboxStore over a single outbox table.
type PgOutbox struct {
	pool  *pgxpool.Pool
	table string
}

func NewPgOutbox(pool *pgxpool.Pool, table string) *PgOutbox {
	return &PgOutbox{pool: pool, table: table}
}

func (o *PgOutbox) Claim(ctx context.Context, batch int, lease time.Duration) ([]OutboxRow, error) {
	tx, err := o.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		SELECT id, event_id, event_type, payload, attempts
		FROM %s
		WHERE status IN ('pending', 'processing')
		  AND (next_retry IS NULL OR next_retry <= NOW())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, o.table)

	rows, err := tx.Query(ctx, query, batch)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRow, error) {
		var r OutboxRow
		err := row.Scan(&r.ID, &r.EventID, &r.EventType, &r.Payload, &r.Attempts)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}

	releaseAt := time.Now().Add(lease)
	update := fmt.Sprintf(`
		UPDATE %s
		SET status = 'processing', next_retry = $2, updated_at = NOW()
		WHERE id = $1`, o.table)
	for _, row := range items {
		if _, err := tx.Exec(ctx, update, row.ID, releaseAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (o *PgOutbox) MarkSent(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1`, o.table)
	_, err := o.pool.Exec(ctx, query, id)
	return err
}

func (o *PgOutbox) MarkRetry(ctx context.Context, id int64, next time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
		    attempts = attempts + 1,
		    next_retry = $2,
		    updated_at = NOW()
		WHERE id = $1`, o.table)
	_, err := o.pool.Exec(ctx, query, id, next)
	return err
}
