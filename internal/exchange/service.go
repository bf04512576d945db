// Package exchange defines the execution-transport contracts the bot
// consumes. Implementations live in the binance (live/paper) and sim
// (backtest) sub-packages; the orchestrator depends only on Transport, the
// bot loop on the wider Service.
package exchange

import (
	"context"
	"time"

	"gridbot/internal/domain"
)

// Transport places orders on the venue. Any failure is treated uniformly by
// callers: logged, notified, and the surrounding loop continues.
type Transport interface {
	// PlaceLimitOrder submits a resting limit order and returns the venue's
	// view of it.
	PlaceLimitOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, price float64) (*domain.Order, error)

	// PlaceMarketOrder submits an immediate market order. price is the
	// reference price used for sizing and simulated fills; live venues
	// ignore it.
	PlaceMarketOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, price float64) (*domain.Order, error)
}

// TickerHandler consumes one price tick from the venue feed.
type TickerHandler func(ctx context.Context, price float64, ts time.Time)

// Service is the full venue surface the bot loop uses on top of Transport.
type Service interface {
	Transport

	// CurrentPrice returns the latest traded price for the pair.
	CurrentPrice(ctx context.Context, pair string) (float64, error)

	// Balances returns the free quote and base balances for the account.
	Balances(ctx context.Context) (fiat, crypto float64, err error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID, pair string) error

	// FetchOrder returns the venue's current view of an order.
	FetchOrder(ctx context.Context, orderID, pair string) (*domain.Order, error)

	// Candles returns up to limit OHLCV bars for the pair at the given
	// interval, from start (inclusive). Zero start means most recent bars.
	Candles(ctx context.Context, pair, interval string, start time.Time, limit int) ([]domain.Candle, error)

	// SubscribeTicker streams price ticks to the handler until the context
	// is cancelled.
	SubscribeTicker(ctx context.Context, pair string, handler TickerHandler) error

	// Close releases any connections held by the service.
	Close() error
}
