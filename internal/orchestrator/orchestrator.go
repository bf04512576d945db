// Package orchestrator drives the order lifecycle: it seeds the grid, reacts
// to fill and cancel events, and places the paired and replacement orders
// that keep the grid populated. It is the only component that talks to the
// execution transport; the grid manager stays the single authority on level
// state, the order book on order-to-level ownership.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
	"gridbot/internal/grid"
	"gridbot/internal/orderbook"
)

// Ledger is the funds ledger surface the orchestrator needs. Reservations
// happen only after a confirmed placement; releases happen before a
// replacement's reservation so funds are never double-reserved.
type Ledger interface {
	ReserveBuy(amount float64) error
	ReserveSell(qty float64) error
	ReleaseBuy(amount float64)
	ReleaseSell(qty float64)
	TotalValue(price float64) float64
	FiatBalance() float64
	CryptoBalance() float64
}

// Validator adjusts requested quantities against current balances.
type Validator interface {
	AdjustBuy(balance, qty, price float64) (float64, error)
	AdjustSell(cryptoBalance, qty float64) (float64, error)
}

// Notifier is the fire-and-forget notification sink. Delivery failures never
// affect orchestration state.
type Notifier interface {
	Notify(ctx context.Context, category domain.NotifyCategory, message string)
}

// Publisher is the slice of the event bus the orchestrator publishes on:
// simulated fills go out through the same order-filled event as live ones.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event, order *domain.Order) error
}

// Orchestrator coordinates the grid manager, order book, ledger, validator,
// transport, and notifier. Its fill/cancel handlers are bus subscribers;
// nothing they do is allowed to propagate an error back to the bus.
type Orchestrator struct {
	grid      *grid.Manager
	book      *orderbook.Book
	ledger    Ledger
	validator Validator
	transport exchange.Transport
	bus       Publisher
	notifier  Notifier

	pair      string
	simulated bool

	log *slog.Logger
}

// New builds an Orchestrator. simulated marks backtest runs, where market
// orders fill synchronously through the bus instead of via venue events.
func New(
	gm *grid.Manager,
	book *orderbook.Book,
	ledger Ledger,
	validator Validator,
	transport exchange.Transport,
	bus Publisher,
	notifier Notifier,
	pair string,
	simulated bool,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		grid:      gm,
		book:      book,
		ledger:    ledger,
		validator: validator,
		transport: transport,
		bus:       bus,
		notifier:  notifier,
		pair:      pair,
		simulated: simulated,
		log:       log.With(slog.String("component", "orchestrator")),
	}
}

// SeedGrid places the one-time initial set of limit orders: buys on every
// eligible buy level strictly below currentPrice, sells on every eligible
// sell level strictly above it. Each level fails independently; an error on
// one never aborts the rest.
func (o *Orchestrator) SeedGrid(ctx context.Context, currentPrice float64) {
	o.log.InfoContext(ctx, "seeding grid",
		slog.Float64("current_price", currentPrice),
		slog.Float64("trigger_price", o.grid.TriggerPrice()),
	)

	size := o.grid.OrderSize(o.ledger.TotalValue(currentPrice), currentPrice)

	for _, price := range o.grid.BuyPrices() {
		lvl, ok := o.grid.LevelAt(price)
		if !ok || price >= currentPrice || !o.grid.CanPlaceOrder(lvl, domain.OrderSideBuy) {
			continue
		}
		o.seedLevel(ctx, lvl, domain.OrderSideBuy, size)
	}

	for _, price := range o.grid.SellPrices() {
		lvl, ok := o.grid.LevelAt(price)
		if !ok || price <= currentPrice || !o.grid.CanPlaceOrder(lvl, domain.OrderSideSell) {
			continue
		}
		o.seedLevel(ctx, lvl, domain.OrderSideSell, size)
	}
}

// seedLevel validates, places, reserves, and indexes one seed order. Any
// failure is logged and notified, then swallowed so the seeding loop
// continues with the next level.
func (o *Orchestrator) seedLevel(ctx context.Context, lvl *grid.Level, side domain.OrderSide, size float64) {
	var (
		qty float64
		err error
	)
	if side == domain.OrderSideBuy {
		qty, err = o.validator.AdjustBuy(o.ledger.FiatBalance(), size, lvl.Price)
	} else {
		qty, err = o.validator.AdjustSell(o.ledger.CryptoBalance(), size)
	}
	if err != nil {
		o.reportFailure(ctx, "seed validation failed", lvl.Price, side, err)
		return
	}

	order, err := o.transport.PlaceLimitOrder(ctx, side, o.pair, qty, lvl.Price)
	if err != nil {
		o.reportFailure(ctx, "seed placement failed", lvl.Price, side, err)
		return
	}
	if order == nil {
		o.log.WarnContext(ctx, "seed placement returned no order",
			slog.Float64("price", lvl.Price), slog.String("side", string(side)))
		return
	}

	o.commitPlacement(ctx, lvl, order, qty,
		fmt.Sprintf("Grid seeded: %s %v %s @ %v", order.Side, qty, o.pair, lvl.Price))
}

// commitPlacement runs the post-placement bookkeeping shared by every
// placement path: reserve funds, mark the level pending, index the order,
// and send the placement notification.
func (o *Orchestrator) commitPlacement(ctx context.Context, lvl *grid.Level, order *domain.Order, qty float64, notice string) {
	var err error
	if order.Side == domain.OrderSideBuy {
		err = o.ledger.ReserveBuy(qty * order.Price)
	} else {
		err = o.ledger.ReserveSell(qty)
	}
	if err != nil {
		// The order is live on the venue but unfunded in the ledger; flag it
		// loudly and keep going.
		o.reportFailure(ctx, "reservation failed after placement", order.Price, order.Side, err)
	}

	if err := o.grid.MarkOrderPending(lvl, order); err != nil {
		o.log.ErrorContext(ctx, "mark pending failed",
			slog.Float64("price", lvl.Price),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	o.book.Add(order, lvl)

	o.log.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price),
		slog.Float64("quantity", qty),
	)
	o.notifier.Notify(ctx, domain.NotifyOrderPlaced, notice)
}

// OnOrderFilled reacts to a fill: it completes the level's state transition
// and places the paired opposite-side order. Non-grid fills (initial
// purchase, liquidations) log and return. Wired as an order-filled bus
// subscriber; it never returns an error.
func (o *Orchestrator) OnOrderFilled(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return nil
	}
	order = o.canonical(order, domain.OrderStatusClosed)

	lvl := o.book.LevelFor(order)
	if lvl == nil {
		o.log.InfoContext(ctx, "non-grid order filled, no cascade",
			slog.String("order_id", order.ID),
			slog.String("side", string(order.Side)),
		)
		return nil
	}

	o.log.InfoContext(ctx, "grid order filled",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", lvl.Price),
		slog.Float64("filled", order.Filled),
	)
	o.grid.CompleteOrder(lvl, order.Side)

	if order.Side == domain.OrderSideBuy {
		o.placePairedSell(ctx, lvl, order)
	} else {
		o.placePairedBuy(ctx, lvl, order)
	}
	return nil
}

// placePairedSell places a sell of the exact filled quantity on the paired
// sell level after a buy fill. A placement failure on this path is logged
// but deliberately not notified, unlike every other failure path.
func (o *Orchestrator) placePairedSell(ctx context.Context, lvl *grid.Level, order *domain.Order) {
	sellLvl := o.grid.PairedSellLevel(lvl)
	if sellLvl == nil {
		o.log.InfoContext(ctx, "no paired sell level available",
			slog.Float64("price", lvl.Price))
		return
	}
	if !o.grid.CanPlaceOrder(sellLvl, domain.OrderSideSell) {
		o.log.InfoContext(ctx, "paired sell level not eligible",
			slog.Float64("price", sellLvl.Price),
			slog.String("state", string(sellLvl.State())),
		)
		return
	}

	qty, err := o.validator.AdjustSell(o.ledger.CryptoBalance(), order.Filled)
	if err != nil {
		o.log.ErrorContext(ctx, "paired sell validation failed",
			slog.Float64("price", sellLvl.Price),
			slog.String("error", err.Error()),
		)
		return
	}

	sellOrder, err := o.transport.PlaceLimitOrder(ctx, domain.OrderSideSell, o.pair, qty, sellLvl.Price)
	if err != nil || sellOrder == nil {
		if err != nil {
			o.log.ErrorContext(ctx, "paired sell placement failed",
				slog.Float64("price", sellLvl.Price),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := o.grid.PairLevels(lvl, sellLvl, grid.PairSell); err != nil {
		o.log.ErrorContext(ctx, "pairing failed", slog.String("error", err.Error()))
	}
	o.commitPlacement(ctx, sellLvl, sellOrder, qty,
		fmt.Sprintf("Paired sell placed: %v %s @ %v", qty, o.pair, sellLvl.Price))
}

// placePairedBuy places a buy of the exact filled quantity after a sell
// fill, preferring the level's previously paired buy level when it is still
// eligible and falling back to the immediate lower neighbor otherwise. The
// fallback is not eligibility-checked; the placement commits regardless.
func (o *Orchestrator) placePairedBuy(ctx context.Context, lvl *grid.Level, order *domain.Order) {
	buyLvl := o.grid.PairedBuyLevel(lvl)
	if buyLvl == nil || !o.grid.CanPlaceOrder(buyLvl, domain.OrderSideBuy) {
		buyLvl = o.grid.LevelBelow(lvl)
	}
	if buyLvl == nil {
		o.log.InfoContext(ctx, "no paired buy level available",
			slog.Float64("price", lvl.Price))
		return
	}

	qty, err := o.validator.AdjustBuy(o.ledger.FiatBalance(), order.Filled, buyLvl.Price)
	if err != nil {
		o.reportFailure(ctx, "paired buy validation failed", buyLvl.Price, domain.OrderSideBuy, err)
		return
	}

	buyOrder, err := o.transport.PlaceLimitOrder(ctx, domain.OrderSideBuy, o.pair, qty, buyLvl.Price)
	if err != nil {
		o.reportFailure(ctx, "paired buy placement failed", buyLvl.Price, domain.OrderSideBuy, err)
		return
	}
	if buyOrder == nil {
		o.log.WarnContext(ctx, "paired buy placement returned no order",
			slog.Float64("price", buyLvl.Price))
		return
	}

	if err := o.grid.PairLevels(lvl, buyLvl, grid.PairBuy); err != nil {
		o.log.ErrorContext(ctx, "pairing failed", slog.String("error", err.Error()))
	}
	o.commitPlacement(ctx, buyLvl, buyOrder, qty,
		fmt.Sprintf("Paired buy placed: %v %s @ %v", qty, o.pair, buyLvl.Price))
}

// OnOrderCancelled reacts to a cancellation: release the reservation, re-arm
// the level, and attempt a same-level, same-side replacement against the
// current ledger. Eligibility is re-checked because conditions may have
// changed since the venue raised the cancellation; that race is accepted.
// Wired as an order-cancelled bus subscriber; it never returns an error.
func (o *Orchestrator) OnOrderCancelled(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return nil
	}
	order = o.canonical(order, domain.OrderStatusCanceled)

	lvl := o.book.LevelFor(order)
	if lvl == nil {
		o.log.WarnContext(ctx, "cancelled order has no grid level",
			slog.String("order_id", order.ID))
		o.notifier.Notify(ctx, domain.NotifyOrderCancelled,
			fmt.Sprintf("Order %s cancelled, not replaced (no grid level)", order.ID))
		return nil
	}

	o.grid.MarkOrderCancelled(lvl, order)
	if _, err := o.book.Remove(order.ID); err != nil {
		o.log.WarnContext(ctx, "cancelled order missing from book",
			slog.String("order_id", order.ID))
	}

	// Release before any replacement reservation so funds cannot be
	// double-reserved.
	if order.Side == domain.OrderSideBuy {
		o.ledger.ReleaseBuy(order.Amount * order.Price)
	} else {
		o.ledger.ReleaseSell(order.Amount)
	}

	if !o.grid.CanPlaceOrder(lvl, order.Side) {
		o.notifier.Notify(ctx, domain.NotifyOrderCancelled,
			fmt.Sprintf("Order at %v cancelled, not replaced: conditions changed", lvl.Price))
		return nil
	}

	var (
		qty float64
		err error
	)
	if order.Side == domain.OrderSideBuy {
		qty, err = o.validator.AdjustBuy(o.ledger.FiatBalance(), order.Amount, lvl.Price)
	} else {
		qty, err = o.validator.AdjustSell(o.ledger.CryptoBalance(), order.Amount)
	}
	if err != nil {
		o.notifier.Notify(ctx, domain.NotifyOrderCancelled,
			fmt.Sprintf("Order at %v cancelled, not replaced: insufficient balance", lvl.Price))
		return nil
	}

	replacement, err := o.transport.PlaceLimitOrder(ctx, order.Side, o.pair, qty, lvl.Price)
	if err != nil {
		o.reportFailure(ctx, "replacement placement failed", lvl.Price, order.Side, err)
		return nil
	}
	if replacement == nil {
		o.reportFailure(ctx, "replacement placement returned no order", lvl.Price, order.Side, domain.ErrOrderRejected)
		return nil
	}

	o.commitPlacement(ctx, lvl, replacement, qty,
		fmt.Sprintf("Replacement placed: %s %v %s @ %v", order.Side, qty, o.pair, lvl.Price))
	return nil
}

// PerformInitialPurchase market-buys enough crypto to start the run half
// fiat, half crypto. In simulated runs the fill is published synchronously
// so grid seeding sees post-purchase balances; live and paper runs apply the
// ledger update directly rather than waiting for the venue's fill event.
func (o *Orchestrator) PerformInitialPurchase(ctx context.Context, currentPrice float64) {
	qty := o.grid.InitialQuantity(o.ledger.FiatBalance(), o.ledger.CryptoBalance(), currentPrice)
	if qty <= 0 {
		o.log.DebugContext(ctx, "initial purchase not needed",
			slog.Float64("current_price", currentPrice))
		return
	}

	order, err := o.transport.PlaceMarketOrder(ctx, domain.OrderSideBuy, o.pair, qty, currentPrice)
	if err != nil {
		o.reportFailure(ctx, "initial purchase failed", currentPrice, domain.OrderSideBuy, err)
		return
	}
	if order == nil {
		o.reportFailure(ctx, "initial purchase returned no order", currentPrice, domain.OrderSideBuy, domain.ErrOrderRejected)
		return
	}

	o.book.Add(order, nil)
	o.log.InfoContext(ctx, "initial purchase placed",
		slog.String("order_id", order.ID),
		slog.Float64("quantity", qty),
		slog.Float64("price", currentPrice),
	)
	o.notifier.Notify(ctx, domain.NotifyOrderPlaced,
		fmt.Sprintf("Initial purchase: %v %s @ %v", qty, o.pair, currentPrice))

	if o.simulated {
		if err := o.bus.Publish(ctx, domain.EventOrderFilled, order); err != nil {
			o.log.ErrorContext(ctx, "initial purchase fill publish failed",
				slog.String("error", err.Error()))
		}
		return
	}
	if settler, ok := o.ledger.(interface{ SettleInitialPurchase(*domain.Order) }); ok {
		settler.SettleInitialPurchase(order)
	}
}

// Liquidate market-sells the entire crypto balance after a take-profit or
// stop-loss trigger. Failure is reported and never retried here.
func (o *Orchestrator) Liquidate(ctx context.Context, currentPrice float64, reason domain.LiquidationReason) {
	qty := o.ledger.CryptoBalance()
	if qty <= 0 {
		o.log.InfoContext(ctx, "nothing to liquidate",
			slog.String("reason", string(reason)))
		return
	}

	order, err := o.transport.PlaceMarketOrder(ctx, domain.OrderSideSell, o.pair, qty, currentPrice)
	if err != nil {
		o.reportFailure(ctx, "liquidation failed", currentPrice, domain.OrderSideSell, err)
		return
	}
	if order == nil {
		o.reportFailure(ctx, "liquidation returned no order", currentPrice, domain.OrderSideSell, domain.ErrOrderRejected)
		return
	}

	o.book.Add(order, nil)

	category := domain.NotifyTakeProfit
	if reason == domain.LiquidationStopLoss {
		category = domain.NotifyStopLoss
	}
	o.log.InfoContext(ctx, "liquidation placed",
		slog.String("order_id", order.ID),
		slog.String("reason", string(reason)),
		slog.Float64("quantity", qty),
		slog.Float64("price", currentPrice),
	)
	o.notifier.Notify(ctx, category,
		fmt.Sprintf("%s triggered: sold %v %s @ %v", reason, qty, o.pair, currentPrice))

	if o.simulated {
		if err := o.bus.Publish(ctx, domain.EventOrderFilled, order); err != nil {
			o.log.ErrorContext(ctx, "liquidation fill publish failed",
				slog.String("error", err.Error()))
		}
	}
}

// SimulateFills synthesizes a full fill for every open order that rests on
// its side's subset level and whose price traded within [low, high] during
// the bar, publishing it through the same order-filled event live fills use.
// Orders are visited in book insertion order, not price order; at most one
// fill per order per bar, no partials, no price improvement.
func (o *Orchestrator) SimulateFills(ctx context.Context, high, low float64, ts int64) {
	for _, order := range o.book.OpenOrders() {
		if order.Price < low || order.Price > high {
			continue
		}
		// Buys trade only on buy levels, sells only on sell levels. The
		// pairing fallback can park a buy on a sell level; it rests there
		// until cancelled.
		if !o.grid.InSubset(order.Side, order.Price) {
			continue
		}

		order.Filled = order.Amount
		order.Remaining = 0
		order.Average = order.Price
		order.Status = domain.OrderStatusClosed
		order.LastTradeTimestamp = ts

		o.log.DebugContext(ctx, "simulated fill",
			slog.String("order_id", order.ID),
			slog.String("side", string(order.Side)),
			slog.Float64("price", order.Price),
		)
		if err := o.bus.Publish(ctx, domain.EventOrderFilled, order); err != nil {
			o.log.ErrorContext(ctx, "simulated fill publish failed",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// canonical swaps an event payload for the book's own instance of the order
// when one exists, folding the event's terminal status into it. Live venues
// send fresh structs on their update stream; the book's instance is the one
// the grid level references. A payload that already is the book's instance
// (simulated fills publish it directly, pre-folded) must not be written
// here: sibling bus subscribers are reading it concurrently.
func (o *Orchestrator) canonical(order *domain.Order, status domain.OrderStatus) *domain.Order {
	known, ok := o.book.Get(order.ID)
	if !ok || known == order {
		return order
	}
	known.Status = status
	if order.Filled > 0 {
		known.Filled = order.Filled
		known.Remaining = order.Remaining
	}
	if order.Average > 0 {
		known.Average = order.Average
	}
	if order.LastTradeTimestamp > 0 {
		known.LastTradeTimestamp = order.LastTradeTimestamp
	}
	return known
}

// reportFailure logs a placement-path failure and sends the order-failed
// notification.
func (o *Orchestrator) reportFailure(ctx context.Context, msg string, price float64, side domain.OrderSide, err error) {
	o.log.ErrorContext(ctx, msg,
		slog.Float64("price", price),
		slog.String("side", string(side)),
		slog.String("error", err.Error()),
	)
	o.notifier.Notify(ctx, domain.NotifyOrderFailed,
		fmt.Sprintf("%s (%s @ %v): %v", msg, side, price, err))
}
