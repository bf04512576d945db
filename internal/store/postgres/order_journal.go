package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridbot/internal/domain"
)

// OrderJournal persists every order the bot places and the lifecycle events
// it observes, for post-run analysis. It is an observer only: journal
// failures are the caller's to log, never to act on.
type OrderJournal struct {
	pool *pgxpool.Pool
}

// NewOrderJournal creates an OrderJournal backed by the given connection
// pool.
func NewOrderJournal(pool *pgxpool.Pool) *OrderJournal {
	return &OrderJournal{pool: pool}
}

// RecordOrder upserts the order's current state. gridPrice carries the grid
// level price for grid orders and nil for non-grid orders.
func (j *OrderJournal) RecordOrder(ctx context.Context, order *domain.Order, gridPrice *float64) error {
	const query = `
		INSERT INTO orders (id, pair, side, type, status, price, average, amount, filled, remaining, grid_price, placed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			average = EXCLUDED.average,
			filled = EXCLUDED.filled,
			remaining = EXCLUDED.remaining,
			updated_at = NOW()`

	_, err := j.pool.Exec(ctx, query,
		order.ID, order.Pair, string(order.Side), string(order.Type), string(order.Status),
		order.Price, order.Average, order.Amount, order.Filled, order.Remaining,
		gridPrice, time.UnixMilli(order.Timestamp).UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", order.ID, err)
	}
	return nil
}

// RecordEvent appends one lifecycle event row with a JSONB detail blob.
func (j *OrderJournal) RecordEvent(ctx context.Context, orderID string, event domain.Event, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO order_events (id, order_id, event, detail) VALUES ($1, $2, $3, $4)`
	if _, err := j.pool.Exec(ctx, query, uuid.New().String(), orderID, string(event), detailJSON); err != nil {
		return fmt.Errorf("postgres: record event %s for %s: %w", event, orderID, err)
	}
	return nil
}

// OnOrderFilled journals a fill. Wired as an order-filled bus subscriber in
// live and paper runs when the journal is enabled.
func (j *OrderJournal) OnOrderFilled(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return nil
	}
	if err := j.RecordOrder(ctx, order, nil); err != nil {
		return err
	}
	return j.RecordEvent(ctx, order.ID, domain.EventOrderFilled, map[string]any{
		"side":   string(order.Side),
		"price":  order.Price,
		"filled": order.Filled,
	})
}

// OnOrderCancelled journals a cancellation.
func (j *OrderJournal) OnOrderCancelled(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return nil
	}
	if err := j.RecordOrder(ctx, order, nil); err != nil {
		return err
	}
	return j.RecordEvent(ctx, order.ID, domain.EventOrderCancelled, map[string]any{
		"side":  string(order.Side),
		"price": order.Price,
	})
}
