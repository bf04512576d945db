// Package sim implements the exchange service against in-memory state for
// backtests: limit orders rest instantly, market orders fill at the given
// reference price, and market data comes from the loaded dataset.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
	"gridbot/internal/ledger"
)

// Exchange is the simulated venue. The bot advances time by calling SetClock
// with each bar; order acceptance is immediate and unconditional beyond
// basic quantity/price checks.
type Exchange struct {
	mu sync.Mutex

	candles []domain.Candle
	cursor  int // index of the current bar

	ledger *ledger.Ledger
	log    *slog.Logger
}

// New builds a simulated exchange over the dataset bars. Balances are
// answered from the ledger so they track the simulated run.
func New(candles []domain.Candle, l *ledger.Ledger, log *slog.Logger) *Exchange {
	return &Exchange{
		candles: candles,
		ledger:  l,
		log:     log.With(slog.String("component", "sim_exchange")),
	}
}

// Candles returns the loaded bars; start and limit slice them the way a
// venue's kline endpoint would.
func (e *Exchange) Candles(_ context.Context, _ string, _ string, start time.Time, limit int) ([]domain.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.candles
	if !start.IsZero() {
		for i, c := range out {
			if !c.Time().Before(start) {
				out = out[i:]
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetClock moves the simulation to bar index i. CurrentPrice answers with
// that bar's close until the next call.
func (e *Exchange) SetClock(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= 0 && i < len(e.candles) {
		e.cursor = i
	}
}

// CurrentPrice returns the close of the current bar.
func (e *Exchange) CurrentPrice(context.Context, string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.candles) == 0 {
		return 0, fmt.Errorf("sim: no candles loaded: %w", domain.ErrDataUnavailable)
	}
	return e.candles[e.cursor].Close, nil
}

// Balances answers from the ledger.
func (e *Exchange) Balances(context.Context) (float64, float64, error) {
	return e.ledger.FiatBalance(), e.ledger.CryptoBalance(), nil
}

// PlaceLimitOrder accepts any positive-quantity, positive-price limit order
// and returns it open. Fills happen later when the bot replays a bar that
// crosses the order's price.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, price float64) (*domain.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("sim: limit %s quantity %v: %w", side, quantity, domain.ErrInvalidQuantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("sim: limit %s price %v: %w", side, price, domain.ErrInvalidQuantity)
	}

	now := e.now()
	order := &domain.Order{
		ID:        uuid.New().String(),
		Pair:      pair,
		Side:      side,
		Type:      domain.OrderTypeLimit,
		Status:    domain.OrderStatusOpen,
		Price:     price,
		Amount:    quantity,
		Remaining: quantity,
		Timestamp: now,
	}
	e.log.DebugContext(ctx, "limit order accepted",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.Float64("quantity", quantity),
		slog.Float64("price", price),
	)
	return order, nil
}

// PlaceMarketOrder fills immediately and completely at the reference price.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, price float64) (*domain.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("sim: market %s quantity %v: %w", side, quantity, domain.ErrInvalidQuantity)
	}

	now := e.now()
	order := &domain.Order{
		ID:                 uuid.New().String(),
		Pair:               pair,
		Side:               side,
		Type:               domain.OrderTypeMarket,
		Status:             domain.OrderStatusClosed,
		Price:              price,
		Average:            price,
		Amount:             quantity,
		Filled:             quantity,
		Remaining:          0,
		Timestamp:          now,
		LastTradeTimestamp: now,
	}
	e.log.DebugContext(ctx, "market order filled",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.Float64("quantity", quantity),
		slog.Float64("price", price),
	)
	return order, nil
}

// CancelOrder is a no-op: the simulation tracks orders in the bot's book,
// not venue-side.
func (e *Exchange) CancelOrder(context.Context, string, string) error { return nil }

// FetchOrder is unsupported; the simulation has no venue-side order state.
func (e *Exchange) FetchOrder(_ context.Context, orderID, _ string) (*domain.Order, error) {
	return nil, fmt.Errorf("sim: fetch order %s: %w", orderID, domain.ErrNotFound)
}

// SubscribeTicker is unsupported; backtests drive prices from the dataset.
func (e *Exchange) SubscribeTicker(context.Context, string, exchange.TickerHandler) error {
	return fmt.Errorf("sim: ticker subscription: %w", domain.ErrDataUnavailable)
}

// Close releases nothing.
func (e *Exchange) Close() error { return nil }

// now returns the current bar's open time, falling back to wall-clock time
// before any data is loaded.
func (e *Exchange) now() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.candles) == 0 {
		return time.Now().UnixMilli()
	}
	return e.candles[e.cursor].Timestamp
}

var _ exchange.Service = (*Exchange)(nil)
