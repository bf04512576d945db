package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"gridbot/internal/config"
	"gridbot/internal/domain"
	"gridbot/internal/events"
	"gridbot/internal/grid"
	"gridbot/internal/ledger"
	"gridbot/internal/orderbook"
	"gridbot/internal/validation"
)

// fakeTransport accepts every order unless a failure is scripted for its
// price. Limit orders come back open, market orders come back filled, the way
// the simulated venue behaves.
type fakeTransport struct {
	mu          sync.Mutex
	nextID      int
	placed      []*domain.Order
	failLimitAt map[float64]error
	failMarket  error
}

func (f *fakeTransport) PlaceLimitOrder(_ context.Context, side domain.OrderSide, pair string, qty, price float64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLimitAt[price]; err != nil {
		return nil, err
	}
	f.nextID++
	order := &domain.Order{
		ID:        fmt.Sprintf("ord-%d", f.nextID),
		Pair:      pair,
		Side:      side,
		Type:      domain.OrderTypeLimit,
		Status:    domain.OrderStatusOpen,
		Price:     price,
		Amount:    qty,
		Remaining: qty,
	}
	f.placed = append(f.placed, order)
	return order, nil
}

func (f *fakeTransport) PlaceMarketOrder(_ context.Context, side domain.OrderSide, pair string, qty, price float64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarket != nil {
		return nil, f.failMarket
	}
	f.nextID++
	order := &domain.Order{
		ID:      fmt.Sprintf("ord-%d", f.nextID),
		Pair:    pair,
		Side:    side,
		Type:    domain.OrderTypeMarket,
		Status:  domain.OrderStatusClosed,
		Price:   price,
		Average: price,
		Amount:  qty,
		Filled:  qty,
	}
	f.placed = append(f.placed, order)
	return order, nil
}

func (f *fakeTransport) failLimit(price float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLimitAt == nil {
		f.failLimitAt = make(map[float64]error)
	}
	f.failLimitAt[price] = err
}

// fakeNotifier records every notification by category.
type fakeNotifier struct {
	mu       sync.Mutex
	messages map[domain.NotifyCategory][]string
}

func (f *fakeNotifier) Notify(_ context.Context, category domain.NotifyCategory, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[domain.NotifyCategory][]string)
	}
	f.messages[category] = append(f.messages[category], message)
}

func (f *fakeNotifier) count(category domain.NotifyCategory) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[category])
}

type rig struct {
	grid      *grid.Manager
	book      *orderbook.Book
	ledger    *ledger.Ledger
	bus       *events.Bus
	transport *fakeTransport
	notifier  *fakeNotifier
	orch      *Orchestrator
}

// newRig builds a simple 5-level 90000-100000 grid (central 95000) over the
// fake transport, with the ledger and orchestrator composed on the bus the
// way the application wires them: settle first, cascade second.
func newRig(t *testing.T, fiat, crypto float64) *rig {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	gm, err := grid.NewManager(config.GridConfig{
		Strategy: "simple", Spacing: "arithmetic", Levels: 5, Bottom: 90000, Top: 100000,
	}, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	r := &rig{
		grid:      gm,
		book:      orderbook.New(),
		ledger:    ledger.New(fiat, crypto, 0.001, log),
		bus:       events.NewBus(log),
		transport: &fakeTransport{},
		notifier:  &fakeNotifier{},
	}
	r.orch = New(r.grid, r.book, r.ledger, validation.New(),
		r.transport, r.bus, r.notifier, "BTC/USDT", true, log)

	r.bus.Subscribe(domain.EventOrderFilled, func(ctx context.Context, order *domain.Order) error {
		if err := r.ledger.OnOrderFilled(ctx, order); err != nil {
			return err
		}
		return r.orch.OnOrderFilled(ctx, order)
	})
	r.bus.Subscribe(domain.EventOrderCancelled, r.orch.OnOrderCancelled)
	return r
}

// fill publishes a complete fill for an open order through the bus.
func (r *rig) fill(t *testing.T, order *domain.Order) {
	t.Helper()
	order.Filled = order.Amount
	order.Remaining = 0
	order.Average = order.Price
	order.Status = domain.OrderStatusClosed
	if err := r.bus.Publish(context.Background(), domain.EventOrderFilled, order); err != nil {
		t.Fatalf("publish fill: %v", err)
	}
}

func (r *rig) openOrderAt(t *testing.T, price float64, side domain.OrderSide) *domain.Order {
	t.Helper()
	for _, o := range r.book.OpenOrders() {
		if o.Price == price && o.Side == side {
			return o
		}
	}
	t.Fatalf("no open %s order at %v", side, price)
	return nil
}

func levelState(t *testing.T, r *rig, price float64) grid.State {
	t.Helper()
	lvl, ok := r.grid.LevelAt(price)
	if !ok {
		t.Fatalf("no level at %v", price)
	}
	return lvl.State()
}

func TestSeedGridPlacesBothSides(t *testing.T) {
	r := newRig(t, 10000, 0.05)

	r.orch.SeedGrid(context.Background(), 96000)

	// Buys strictly below the current price, sells strictly above.
	buys, sells := r.book.Counts()
	if buys != 3 || sells != 2 {
		t.Fatalf("Counts = (%d, %d), want (3, 2)", buys, sells)
	}
	for _, price := range []float64{90000, 92500, 95000} {
		if st := levelState(t, r, price); st != grid.StateWaitingForBuyFill {
			t.Errorf("level %v state = %v", price, st)
		}
	}
	for _, price := range []float64{97500, 100000} {
		if st := levelState(t, r, price); st != grid.StateWaitingForSellFill {
			t.Errorf("level %v state = %v", price, st)
		}
	}

	st := r.ledger.State()
	if st.ReservedFiat <= 0 || st.ReservedCrypto <= 0 {
		t.Errorf("nothing reserved: %+v", st)
	}
	if r.notifier.count(domain.NotifyOrderPlaced) != 5 {
		t.Errorf("placed notifications = %d, want 5", r.notifier.count(domain.NotifyOrderPlaced))
	}
}

func TestSeedGridExcludesCurrentPriceLevel(t *testing.T) {
	r := newRig(t, 10000, 0.05)

	// 95000 is in the buy subset but not strictly below the price.
	r.orch.SeedGrid(context.Background(), 95000)

	buys, _ := r.book.Counts()
	if buys != 2 {
		t.Errorf("buys = %d, want 2", buys)
	}
	if st := levelState(t, r, 95000); st != grid.StateReadyToBuy {
		t.Errorf("level 95000 state = %v, want ready_to_buy", st)
	}
}

func TestSeedGridContinuesPastFailures(t *testing.T) {
	r := newRig(t, 10000, 0.05)
	r.transport.failLimit(92500, domain.ErrOrderRejected)

	r.orch.SeedGrid(context.Background(), 96000)

	buys, sells := r.book.Counts()
	if buys != 2 || sells != 2 {
		t.Errorf("Counts = (%d, %d), want (2, 2)", buys, sells)
	}
	if st := levelState(t, r, 92500); st != grid.StateReadyToBuy {
		t.Errorf("failed level state = %v, want ready_to_buy", st)
	}
	if r.notifier.count(domain.NotifyOrderFailed) != 1 {
		t.Errorf("failure notifications = %d, want 1", r.notifier.count(domain.NotifyOrderFailed))
	}
}

func TestBuyFillPlacesPairedSell(t *testing.T) {
	// No crypto: sell seeding fails validation and the sell levels stay free
	// for pairing.
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	buy := r.openOrderAt(t, 95000, domain.OrderSideBuy)
	r.fill(t, buy)

	if st := levelState(t, r, 95000); st != grid.StateReadyToSell {
		t.Errorf("filled level state = %v, want ready_to_sell", st)
	}

	sell := r.openOrderAt(t, 97500, domain.OrderSideSell)
	if sell.Amount != buy.Filled {
		t.Errorf("paired sell qty = %v, want the filled qty %v", sell.Amount, buy.Filled)
	}
	if st := levelState(t, r, 97500); st != grid.StateWaitingForSellFill {
		t.Errorf("paired level state = %v", st)
	}

	// The pairing is recorded on both levels.
	snaps := r.grid.Snapshot()
	if snaps[2].PairedSell != 97500 || snaps[3].PairedBuy != 95000 {
		t.Errorf("pairing not recorded: %+v %+v", snaps[2], snaps[3])
	}
}

func TestPairedSellPlacementFailureIsSilent(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)
	failures := r.notifier.count(domain.NotifyOrderFailed)

	r.transport.failLimit(97500, domain.ErrOrderRejected)
	r.fill(t, r.openOrderAt(t, 95000, domain.OrderSideBuy))

	// The fill transition still applies, but the placement failure is logged
	// only; no failure notification goes out on this path.
	if st := levelState(t, r, 95000); st != grid.StateReadyToSell {
		t.Errorf("filled level state = %v", st)
	}
	if got := r.notifier.count(domain.NotifyOrderFailed); got != failures {
		t.Errorf("failure notifications went from %d to %d; paired sell failures must stay silent", failures, got)
	}
}

func TestSellFillPlacesPairedBuy(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)
	r.fill(t, r.openOrderAt(t, 95000, domain.OrderSideBuy))

	sell := r.openOrderAt(t, 97500, domain.OrderSideSell)
	r.fill(t, sell)

	// The previously paired buy level (95000) is ready_to_sell, so the
	// fallback to the level below 97500 wins; both roads lead to 95000 here.
	buy := r.openOrderAt(t, 95000, domain.OrderSideBuy)
	if buy.Amount != sell.Filled {
		t.Errorf("paired buy qty = %v, want %v", buy.Amount, sell.Filled)
	}
}

func TestOnOrderCancelledReplaces(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	cancelled := r.openOrderAt(t, 90000, domain.OrderSideBuy)
	before := r.ledger.State().ReservedFiat

	cancelled.Status = domain.OrderStatusCanceled
	if err := r.bus.Publish(context.Background(), domain.EventOrderCancelled, cancelled); err != nil {
		t.Fatalf("publish cancel: %v", err)
	}

	// The old order is gone and a fresh one holds the level.
	if _, ok := r.book.Get(cancelled.ID); ok {
		t.Error("cancelled order still in the book")
	}
	replacement := r.openOrderAt(t, 90000, domain.OrderSideBuy)
	if replacement.ID == cancelled.ID {
		t.Error("replacement reused the cancelled order")
	}
	if st := levelState(t, r, 90000); st != grid.StateWaitingForBuyFill {
		t.Errorf("level state = %v", st)
	}

	// Release-then-reserve keeps the reservation level, not doubled.
	after := r.ledger.State().ReservedFiat
	if after > before+1 {
		t.Errorf("reserved fiat grew from %v to %v", before, after)
	}
}

func TestOnOrderCancelledReplacementFailure(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	cancelled := r.openOrderAt(t, 90000, domain.OrderSideBuy)
	cancelled.Status = domain.OrderStatusCanceled
	r.transport.failLimit(90000, domain.ErrOrderRejected)

	if err := r.orch.OnOrderCancelled(context.Background(), cancelled); err != nil {
		t.Fatalf("OnOrderCancelled: %v", err)
	}

	if r.notifier.count(domain.NotifyOrderFailed) == 0 {
		t.Error("replacement failure not notified")
	}
	// The reservation was released even though the replacement failed.
	if st := r.ledger.State(); st.Fiat <= 0 {
		t.Errorf("fiat not released: %+v", st)
	}
}

func TestOnOrderCancelledUnknownOrder(t *testing.T) {
	r := newRig(t, 10000, 0)

	err := r.orch.OnOrderCancelled(context.Background(), &domain.Order{
		ID: "ghost", Side: domain.OrderSideBuy, Status: domain.OrderStatusCanceled,
	})
	if err != nil {
		t.Fatalf("OnOrderCancelled: %v", err)
	}
	if r.notifier.count(domain.NotifyOrderCancelled) != 1 {
		t.Error("unknown cancel not notified")
	}
}

func TestPerformInitialPurchaseSimulated(t *testing.T) {
	r := newRig(t, 10000, 0)

	r.orch.PerformInitialPurchase(context.Background(), 100)

	// Half the portfolio moves into crypto; the fill settled synchronously
	// through the bus.
	st := r.ledger.State()
	if st.Crypto != 50 {
		t.Errorf("crypto = %v, want 50", st.Crypto)
	}
	if st.Fiat >= 5000 {
		t.Errorf("fiat = %v, want below 5000 (cost plus fee)", st.Fiat)
	}

	done := r.book.CompletedOrders()
	if len(done) != 1 || done[0].Type != domain.OrderTypeMarket {
		t.Errorf("CompletedOrders = %v", done)
	}
	if r.book.LevelFor(done[0]) != nil {
		t.Error("initial purchase mapped to a grid level")
	}
}

func TestPerformInitialPurchaseSkippedWhenBalanced(t *testing.T) {
	r := newRig(t, 1000, 20) // crypto already worth more than half

	r.orch.PerformInitialPurchase(context.Background(), 100)

	if len(r.transport.placed) != 0 {
		t.Errorf("placed %d orders, want none", len(r.transport.placed))
	}
}

func TestLiquidate(t *testing.T) {
	r := newRig(t, 0, 2)

	r.orch.Liquidate(context.Background(), 100, domain.LiquidationTakeProfit)

	st := r.ledger.State()
	if st.Crypto != 0 {
		t.Errorf("crypto = %v, want 0", st.Crypto)
	}
	if st.Fiat <= 0 {
		t.Errorf("fiat = %v after liquidation", st.Fiat)
	}
	if r.notifier.count(domain.NotifyTakeProfit) != 1 {
		t.Error("take profit not notified")
	}
}

func TestLiquidateNothingHeld(t *testing.T) {
	r := newRig(t, 1000, 0)

	r.orch.Liquidate(context.Background(), 100, domain.LiquidationStopLoss)

	if len(r.transport.placed) != 0 {
		t.Error("liquidation placed an order with no crypto held")
	}
}

func TestSimulateFills(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	var filled []float64
	r.bus.Subscribe(domain.EventOrderFilled, func(_ context.Context, order *domain.Order) error {
		filled = append(filled, order.Price)
		return nil
	})

	// The bar trades 91000-93000: only the 92500 buy is inside.
	r.orch.SimulateFills(context.Background(), 93000, 91000, 1700000000000)

	if len(filled) != 1 || filled[0] != 92500 {
		t.Fatalf("filled prices = %v, want [92500]", filled)
	}
	order, _ := r.book.Get(r.book.CompletedOrders()[0].ID)
	if order.Filled != order.Amount || order.Average != 92500 {
		t.Errorf("fill not complete: %+v", order)
	}
	if order.LastTradeTimestamp != 1700000000000 {
		t.Errorf("LastTradeTimestamp = %d", order.LastTradeTimestamp)
	}
}

func TestSimulateFillsVisitsInsertionOrder(t *testing.T) {
	r := newRig(t, 10000, 1)
	r.orch.SeedGrid(context.Background(), 96000)

	var filled []float64
	r.bus.Subscribe(domain.EventOrderFilled, func(_ context.Context, order *domain.Order) error {
		filled = append(filled, order.Price)
		return nil
	})

	// Everything trades: buys fill before sells, in the order they were
	// placed, not in price order.
	r.orch.SimulateFills(context.Background(), 100000, 90000, 1700000000000)

	if len(filled) < 5 {
		t.Fatalf("filled %d orders, want at least the 5 seeds", len(filled))
	}
	want := []float64{90000, 92500, 95000, 97500, 100000}
	for i, price := range want {
		if filled[i] != price {
			t.Errorf("fill[%d] = %v, want %v", i, filled[i], price)
		}
	}
}

func TestSimulateFillsRespectSideSubsets(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	// Walk the grid up: two buy fills hang sells at 97500 and 100000, then
	// the top sell's fill falls back to a buy parked on the 97500 sell level.
	r.fill(t, r.openOrderAt(t, 95000, domain.OrderSideBuy))
	r.fill(t, r.openOrderAt(t, 92500, domain.OrderSideBuy))
	r.fill(t, r.openOrderAt(t, 100000, domain.OrderSideSell))

	strayBuy := r.openOrderAt(t, 97500, domain.OrderSideBuy)

	var fills []*domain.Order
	r.bus.Subscribe(domain.EventOrderFilled, func(_ context.Context, order *domain.Order) error {
		fills = append(fills, order)
		return nil
	})

	r.orch.SimulateFills(context.Background(), 98000, 97000, 1700000000000)

	// The resting sell at 97500 trades; the buy parked on the same sell
	// level never does, even though the bar covers its price.
	if !strayBuy.IsOpen() {
		t.Errorf("buy resting on a sell level was filled: %+v", strayBuy)
	}
	if len(fills) != 1 || fills[0].Side != domain.OrderSideSell || fills[0].Price != 97500 {
		t.Fatalf("fills = %+v, want only the 97500 sell", fills)
	}
}

func TestFillObserversSeeStablePayload(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)

	// Sibling subscribers read the shared payload while the settle/cascade
	// handler runs; nothing may write it after publication.
	for i := 0; i < 4; i++ {
		r.bus.Subscribe(domain.EventOrderFilled, func(_ context.Context, order *domain.Order) error {
			observed := *order
			if !observed.IsFilled() || observed.Average == 0 || observed.LastTradeTimestamp == 0 {
				t.Errorf("observer saw a partial payload: %+v", observed)
			}
			return nil
		})
	}

	r.orch.SimulateFills(context.Background(), 93000, 91000, 1700000000000)

	done := r.book.CompletedOrders()
	if len(done) != 1 || done[0].Price != 92500 {
		t.Fatalf("CompletedOrders = %+v, want the 92500 buy", done)
	}
}

func TestCanonicalFoldsVenueUpdate(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.orch.SeedGrid(context.Background(), 96000)
	known := r.openOrderAt(t, 95000, domain.OrderSideBuy)

	// The venue sends a fresh struct for the same order ID.
	update := &domain.Order{
		ID:      known.ID,
		Side:    known.Side,
		Price:   known.Price,
		Amount:  known.Amount,
		Filled:  known.Amount,
		Average: 94990,
		Status:  domain.OrderStatusClosed,
	}
	if err := r.bus.Publish(context.Background(), domain.EventOrderFilled, update); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !known.IsFilled() {
		t.Errorf("book instance status = %v, want closed", known.Status)
	}
	if known.Average != 94990 {
		t.Errorf("book instance average = %v, want 94990", known.Average)
	}
}

var errVenue = errors.New("venue down")

func TestInitialPurchaseFailureNotified(t *testing.T) {
	r := newRig(t, 10000, 0)
	r.transport.failMarket = errVenue

	r.orch.PerformInitialPurchase(context.Background(), 100)

	if r.notifier.count(domain.NotifyOrderFailed) != 1 {
		t.Error("initial purchase failure not notified")
	}
}
