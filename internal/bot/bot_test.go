package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"gridbot/internal/config"
	"gridbot/internal/domain"
	"gridbot/internal/events"
	"gridbot/internal/exchange/sim"
	"gridbot/internal/grid"
	"gridbot/internal/ledger"
	"gridbot/internal/orchestrator"
	"gridbot/internal/orderbook"
	"gridbot/internal/validation"
)

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.NotifyCategory, string) {}

type backtestRig struct {
	bot    *Bot
	grid   *grid.Manager
	book   *orderbook.Book
	ledger *ledger.Ledger
}

// newBacktestRig assembles the full backtest stack over the simulated venue:
// a simple 5-level 90000-100000 grid (trigger 95000), 10000 quote to start,
// and the fill/cancel handlers composed on the bus the way the application
// wires them.
func newBacktestRig(t *testing.T, candles []domain.Candle, risk config.RiskConfig) *backtestRig {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	gm, err := grid.NewManager(config.GridConfig{
		Strategy: "simple", Spacing: "arithmetic", Levels: 5, Bottom: 90000, Top: 100000,
	}, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	book := orderbook.New()
	l := ledger.New(10000, 0, 0.001, log)
	bus := events.NewBus(log)
	venue := sim.New(candles, l, log)

	orch := orchestrator.New(gm, book, l, validation.New(),
		venue, bus, noopNotifier{}, "BTC/USDT", true, log)

	bus.Subscribe(domain.EventOrderFilled, func(ctx context.Context, order *domain.Order) error {
		if err := l.OnOrderFilled(ctx, order); err != nil {
			return err
		}
		return orch.OnOrderFilled(ctx, order)
	})
	bus.Subscribe(domain.EventOrderCancelled, orch.OnOrderCancelled)

	b := New(orch, gm, l, venue, bus, nil, "BTC/USDT", "backtest", risk, log)
	return &backtestRig{bot: b, grid: gm, book: book, ledger: l}
}

// bar builds one candle; ts indexes hours from a fixed origin.
func bar(i int, high, low, close float64) domain.Candle {
	return domain.Candle{
		Timestamp: 1700000000000 + int64(i)*3600_000,
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
	}
}

func TestBacktestSeedsOnTriggerCross(t *testing.T) {
	candles := []domain.Candle{
		// First bar only records the last price; no cross is possible yet.
		bar(0, 96200, 95800, 96000),
		// Close crosses the 95000 trigger downward: initial purchase + seed.
		bar(1, 96500, 93800, 94000),
		// Quiet bar: no grid price trades.
		bar(2, 94500, 93600, 94200),
	}
	r := newBacktestRig(t, candles, config.RiskConfig{})

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !r.bot.Seeded() {
		t.Fatal("grid not seeded")
	}

	// Seeded at 94000: buys strictly below, sells strictly above, plus the
	// initial market purchase.
	buys, sells := r.book.Counts()
	if buys != 3 || sells != 2 { // 2 grid buys + market buy
		t.Errorf("Counts = (%d, %d), want (3, 2)", buys, sells)
	}
	if r.ledger.CryptoBalance() <= 0 && r.ledger.State().ReservedCrypto <= 0 {
		t.Error("initial purchase left no crypto")
	}

	eq := r.bot.EquitySeries()
	if len(eq) != len(candles) {
		t.Errorf("equity samples = %d, want %d", len(eq), len(candles))
	}
	// Equity starts near the initial balance, less fees.
	if eq[0].Equity != 10000 {
		t.Errorf("first equity = %v, want 10000", eq[0].Equity)
	}
}

func TestBacktestSeedsOnlyOnce(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 96200, 95800, 96000),
		bar(1, 96500, 93900, 94000), // cross down: seed
		bar(2, 96400, 93900, 96000), // cross back up: must not reseed
		bar(3, 96200, 93800, 94000), // and again
	}
	r := newBacktestRig(t, candles, config.RiskConfig{})

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One market purchase; reseeding would have added another.
	var markets int
	for _, o := range r.book.Snapshot() {
		if o.Type == domain.OrderTypeMarket {
			markets++
		}
	}
	if markets != 1 {
		t.Errorf("market orders = %d, want exactly 1", markets)
	}
}

func TestBacktestFillsGridOrders(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 96200, 95800, 96000),
		bar(1, 96500, 93800, 94000), // seed at 94000
		bar(2, 93000, 92000, 92600), // fills the 92500 buy
		bar(3, 98000, 92600, 97600), // fills the 97500 sell
	}
	r := newBacktestRig(t, candles, config.RiskConfig{})

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var filledPrices []float64
	for _, o := range r.book.CompletedOrders() {
		if o.Type == domain.OrderTypeLimit {
			filledPrices = append(filledPrices, o.Price)
		}
	}
	if len(filledPrices) < 2 {
		t.Fatalf("limit fills = %v, want the 92500 buy and 97500 sell", filledPrices)
	}
	if r.ledger.FeesPaid() <= 0 {
		t.Error("no fees accrued across fills")
	}
}

func TestBacktestTakeProfitStopsRun(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 94200, 93800, 94000),
		bar(1, 95600, 93900, 95500), // cross up: seed
		// The rally fills every resting sell, then the close trips the
		// take-profit trigger.
		bar(2, 100100, 96000, 96500),
		bar(3, 97000, 96400, 96800), // never reached
	}
	risk := config.RiskConfig{TakeProfitEnabled: true, TakeProfitThreshold: 96000}
	r := newBacktestRig(t, candles, risk)

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(r.bot.EquitySeries()); got != 3 {
		t.Errorf("equity samples = %d, want 3 (run ends on the trigger bar)", got)
	}
	if r.ledger.CryptoBalance() != 0 {
		t.Errorf("crypto = %v after take-profit liquidation", r.ledger.CryptoBalance())
	}
}

func TestBacktestStopLoss(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 96200, 95800, 96000),
		bar(1, 96500, 93900, 94000), // cross down: seed
		bar(2, 94000, 91200, 91500), // close below the stop-loss threshold
		bar(3, 92000, 91000, 91200), // never reached
	}
	risk := config.RiskConfig{StopLossEnabled: true, StopLossThreshold: 92000}
	r := newBacktestRig(t, candles, risk)

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(r.bot.EquitySeries()); got != 3 {
		t.Errorf("equity samples = %d, want 3 (run ends on the trigger bar)", got)
	}
	// Initial market buy plus the liquidation market sell.
	var marketSells int
	for _, o := range r.book.Snapshot() {
		if o.Type == domain.OrderTypeMarket && o.Side == domain.OrderSideSell {
			marketSells++
		}
	}
	if marketSells != 1 {
		t.Errorf("liquidation sells = %d, want 1", marketSells)
	}
}

func TestBacktestWithoutData(t *testing.T) {
	r := newBacktestRig(t, nil, config.RiskConfig{})

	err := r.bot.Run(context.Background(), nil)
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("Run error = %v, want ErrDataUnavailable", err)
	}
}

func TestStopEndsBacktestEarly(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 96200, 95800, 96000),
		bar(1, 96500, 93900, 94000),
		bar(2, 94500, 93600, 94200),
	}
	r := newBacktestRig(t, candles, config.RiskConfig{})
	r.bot.Stop()

	if err := r.bot.Run(context.Background(), candles); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.bot.EquitySeries()) != 0 {
		t.Error("stopped bot still processed bars")
	}
	if r.bot.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestPauseResume(t *testing.T) {
	r := newBacktestRig(t, nil, config.RiskConfig{})

	if !r.bot.Running() {
		t.Error("new bot not running")
	}
	r.bot.Pause()
	if r.bot.Running() {
		t.Error("Running() = true after Pause")
	}
	r.bot.Resume()
	if !r.bot.Running() {
		t.Error("Running() = false after Resume")
	}
}
