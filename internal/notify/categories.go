package notify

import (
	"context"
	"fmt"
	"log/slog"

	"gridbot/internal/domain"
)

// titles maps each notification category to its message title.
var titles = map[domain.NotifyCategory]string{
	domain.NotifyOrderPlaced:    "Order Placed",
	domain.NotifyOrderFilled:    "Order Filled",
	domain.NotifyOrderCancelled: "Order Cancelled",
	domain.NotifyOrderFailed:    "Order Failed",
	domain.NotifyTakeProfit:     "Take Profit Triggered",
	domain.NotifyStopLoss:       "Stop Loss Triggered",
	domain.NotifyBotStatus:      "Bot Status",
	domain.NotifyError:          "Error",
}

// Sink adapts the Notifier into the fire-and-forget surface the trading
// paths consume: delivery failures are logged here and never reach the
// caller. A disabled Sink (backtests) drops everything.
type Sink struct {
	notifier *Notifier // nil when notifications are disabled
	log      *slog.Logger
}

// NewSink wraps a Notifier. Pass a nil notifier to disable delivery
// entirely; backtests do this regardless of config.
func NewSink(n *Notifier, log *slog.Logger) *Sink {
	return &Sink{
		notifier: n,
		log:      log.With(slog.String("component", "notify_sink")),
	}
}

// Notify delivers one categorized notification, swallowing any failure.
func (s *Sink) Notify(ctx context.Context, category domain.NotifyCategory, message string) {
	if s.notifier == nil {
		return
	}

	title, ok := titles[category]
	if !ok {
		title = string(category)
	}
	if err := s.notifier.Notify(ctx, category, title, message); err != nil {
		s.log.WarnContext(ctx, "notification delivery failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}
}

// OnOrderFilled sends the fill notification. Wired as an order-filled bus
// subscriber so fills are announced whether they came from the venue or the
// simulator.
func (s *Sink) OnOrderFilled(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return nil
	}
	price := order.Average
	if price == 0 {
		price = order.Price
	}
	s.Notify(ctx, domain.NotifyOrderFilled,
		fmt.Sprintf("%s %v %s filled @ %v", order.Side, order.Filled, order.Pair, price))
	return nil
}
