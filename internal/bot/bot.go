// Package bot runs the trading loop that feeds the orchestrator: bar replay
// in backtests, the live price feed in paper and live modes. The grid seeds
// exactly once, when the price path crosses the grid's trigger price.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridbot/internal/config"
	"gridbot/internal/domain"
	"gridbot/internal/exchange"
	"gridbot/internal/grid"
	"gridbot/internal/ledger"
	"gridbot/internal/metrics"
	"gridbot/internal/orchestrator"
	"gridbot/internal/report"
)

// Clock is implemented by the simulated exchange so the bot can advance its
// notion of "now" bar by bar.
type Clock interface {
	SetClock(i int)
}

// Publisher publishes bot lifecycle events on the bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event, order *domain.Order) error
}

// Bot drives one run. The same loop body serves every mode: check the
// seed-once trigger, let the orchestrator react, evaluate take-profit and
// stop-loss, record equity.
type Bot struct {
	orch    *orchestrator.Orchestrator
	grid    *grid.Manager
	ledger  *ledger.Ledger
	service exchange.Service
	bus     Publisher
	metrics *metrics.Metrics // may be nil

	pair string
	mode string
	risk config.RiskConfig

	mu        sync.Mutex
	running   bool
	stopped   bool
	seeded    bool
	lastPrice float64
	hasLast   bool
	equity    []report.EquityPoint
	cancelRun context.CancelFunc
	onTick    func(time.Time)

	log *slog.Logger
}

// New builds a Bot. metrics may be nil when the Prometheus endpoint is
// disabled.
func New(
	orch *orchestrator.Orchestrator,
	gm *grid.Manager,
	l *ledger.Ledger,
	service exchange.Service,
	bus Publisher,
	m *metrics.Metrics,
	pair, mode string,
	risk config.RiskConfig,
	log *slog.Logger,
) *Bot {
	return &Bot{
		orch:    orch,
		grid:    gm,
		ledger:  l,
		service: service,
		bus:     bus,
		metrics: m,
		pair:    pair,
		mode:    mode,
		risk:    risk,
		running: true,
		log:     log.With(slog.String("component", "bot")),
	}
}

// Running reports whether the loop is processing ticks.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.stopped
}

// Seeded reports whether the grid has been seeded this run.
func (b *Bot) Seeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seeded
}

// Pause suspends tick processing without tearing the run down.
func (b *Bot) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.log.Info("bot paused")
}

// Resume re-enables tick processing after a Pause.
func (b *Bot) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	b.log.Info("bot resumed")
}

// Stop ends the run. It is idempotent and cancels the live subscription.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	b.running = false
	if b.cancelRun != nil {
		b.cancelRun()
	}
	b.log.Info("bot stopped")
}

// OnTick registers an observer called with every live tick's timestamp.
// Call before Run.
func (b *Bot) OnTick(fn func(time.Time)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTick = fn
}

// EquitySeries returns a copy of the recorded equity curve.
func (b *Bot) EquitySeries() []report.EquityPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]report.EquityPoint, len(b.equity))
	copy(out, b.equity)
	return out
}

// Run executes the configured mode until the data ends, a risk trigger
// fires, Stop is called, or the context is cancelled.
func (b *Bot) Run(ctx context.Context, candles []domain.Candle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancelRun = cancel
	b.mu.Unlock()

	_ = b.bus.Publish(ctx, domain.EventBotStarted, nil)
	defer func() {
		_ = b.bus.Publish(context.WithoutCancel(ctx), domain.EventBotStopped, nil)
	}()

	if b.mode == "backtest" {
		return b.runBacktest(ctx, candles)
	}
	return b.runLive(ctx)
}

// runBacktest replays the dataset bar by bar through the orchestrator.
func (b *Bot) runBacktest(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return fmt.Errorf("bot: backtest without data: %w", domain.ErrDataUnavailable)
	}
	b.log.InfoContext(ctx, "backtest starting",
		slog.Int("bars", len(candles)),
		slog.String("from", candles[0].Time().Format(time.RFC3339)),
		slog.String("to", candles[len(candles)-1].Time().Format(time.RFC3339)),
	)

	clock, _ := b.service.(Clock)
	for i, bar := range candles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.mu.Lock()
		stopped, running := b.stopped, b.running
		b.mu.Unlock()
		if stopped {
			break
		}
		if !running {
			continue
		}

		if clock != nil {
			clock.SetClock(i)
		}

		b.checkSeedTrigger(ctx, bar.Close)
		b.orch.SimulateFills(ctx, bar.High, bar.Low, bar.Timestamp)
		if b.checkRiskTriggers(ctx, bar.Close) {
			b.recordEquity(bar.Timestamp, bar.Close)
			break
		}
		b.recordEquity(bar.Timestamp, bar.Close)
	}
	return nil
}

// runLive fetches the venue balances, then processes the ticker feed with
// the same loop body the backtest uses.
func (b *Bot) runLive(ctx context.Context) error {
	fiat, crypto, err := b.service.Balances(ctx)
	if err != nil {
		return fmt.Errorf("bot: fetch balances: %w", err)
	}
	b.ledger.SetBalances(fiat, crypto)
	b.log.InfoContext(ctx, "live balances loaded",
		slog.Float64("fiat", fiat),
		slog.Float64("crypto", crypto),
	)

	err = b.service.SubscribeTicker(ctx, b.pair, func(ctx context.Context, price float64, ts time.Time) {
		b.mu.Lock()
		stopped, running := b.stopped, b.running
		onTick := b.onTick
		b.mu.Unlock()
		if onTick != nil {
			onTick(ts)
		}
		if stopped || !running {
			return
		}

		b.checkSeedTrigger(ctx, price)
		if b.checkRiskTriggers(ctx, price) {
			b.Stop()
			return
		}
		b.recordEquity(ts.UnixMilli(), price)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("bot: ticker feed: %w", err)
	}
	return nil
}

// checkSeedTrigger seeds the grid the first time the price path crosses the
// trigger price. Before the first tick nothing happens; afterwards, a cross
// in either direction (or an exact touch) seeds once and never again.
func (b *Bot) checkSeedTrigger(ctx context.Context, price float64) {
	trigger := b.grid.TriggerPrice()

	b.mu.Lock()
	if b.seeded {
		b.mu.Unlock()
		return
	}
	if !b.hasLast {
		b.lastPrice = price
		b.hasLast = true
		b.mu.Unlock()
		return
	}
	crossed := (b.lastPrice-trigger)*(price-trigger) <= 0
	b.lastPrice = price
	if !crossed {
		b.mu.Unlock()
		return
	}
	b.seeded = true
	b.mu.Unlock()

	b.log.InfoContext(ctx, "trigger price crossed, seeding",
		slog.Float64("trigger", trigger),
		slog.Float64("price", price),
	)
	b.orch.PerformInitialPurchase(ctx, price)
	b.orch.SeedGrid(ctx, price)
}

// checkRiskTriggers evaluates take-profit and stop-loss and liquidates on a
// hit, returning true when the run should end. Triggers are only evaluated
// while crypto is held.
func (b *Bot) checkRiskTriggers(ctx context.Context, price float64) bool {
	if b.ledger.CryptoBalance() <= 0 {
		return false
	}

	if b.risk.TakeProfitEnabled && price >= b.risk.TakeProfitThreshold {
		b.log.InfoContext(ctx, "take profit triggered",
			slog.Float64("price", price),
			slog.Float64("threshold", b.risk.TakeProfitThreshold),
		)
		b.orch.Liquidate(ctx, price, domain.LiquidationTakeProfit)
		return true
	}
	if b.risk.StopLossEnabled && price <= b.risk.StopLossThreshold {
		b.log.InfoContext(ctx, "stop loss triggered",
			slog.Float64("price", price),
			slog.Float64("threshold", b.risk.StopLossThreshold),
		)
		b.orch.Liquidate(ctx, price, domain.LiquidationStopLoss)
		return true
	}
	return false
}

// recordEquity appends one equity sample and refreshes the balance gauges.
func (b *Bot) recordEquity(ts int64, price float64) {
	equity := b.ledger.TotalValue(price)

	b.mu.Lock()
	b.equity = append(b.equity, report.EquityPoint{Timestamp: ts, Equity: equity})
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ObserveLedger(b.ledger.State(), equity)
	}
}
