// Package health runs the periodic runtime checks for live and paper modes:
// venue reachability, feed staleness, and ledger sanity. Degradations are
// logged and notified once per transition, not on every tick.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
	"gridbot/internal/ledger"
)

// staleAfter is how old the last observed tick may be before the feed is
// considered stale.
const staleAfter = 2 * time.Minute

// Notifier is the notification sink for degradation alerts.
type Notifier interface {
	Notify(ctx context.Context, category domain.NotifyCategory, message string)
}

// Monitor periodically probes the venue and inspects local state.
type Monitor struct {
	service  exchange.Service
	ledger   *ledger.Ledger
	notifier Notifier
	pair     string
	interval time.Duration

	mu       sync.Mutex
	lastTick time.Time
	degraded bool

	log *slog.Logger
}

// NewMonitor builds a Monitor probing every interval.
func NewMonitor(service exchange.Service, l *ledger.Ledger, notifier Notifier, pair string, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		service:  service,
		ledger:   l,
		notifier: notifier,
		pair:     pair,
		interval: interval,
		log:      log.With(slog.String("component", "health")),
	}
}

// ObserveTick records a feed tick so staleness can be judged. Wire it into
// the ticker handler.
func (m *Monitor) ObserveTick(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTick = ts
}

// Run probes until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.InfoContext(ctx, "health monitor started",
		slog.Duration("interval", m.interval))
	defer m.log.Info("health monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs every probe and reports the overall transition.
func (m *Monitor) check(ctx context.Context) {
	var problems []string

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := m.service.CurrentPrice(probeCtx, m.pair); err != nil {
		problems = append(problems, fmt.Sprintf("venue unreachable: %v", err))
	}
	cancel()

	m.mu.Lock()
	lastTick := m.lastTick
	m.mu.Unlock()
	if !lastTick.IsZero() && time.Since(lastTick) > staleAfter {
		problems = append(problems, fmt.Sprintf("feed stale: last tick %s ago", time.Since(lastTick).Round(time.Second)))
	}

	snap := m.ledger.State()
	if snap.Fiat < 0 || snap.Crypto < 0 || snap.ReservedFiat < 0 || snap.ReservedCrypto < 0 {
		problems = append(problems, fmt.Sprintf("ledger negative balance: %+v", snap))
	}

	m.transition(ctx, problems)
}

// transition logs and notifies only when the healthy/degraded state flips.
func (m *Monitor) transition(ctx context.Context, problems []string) {
	m.mu.Lock()
	was := m.degraded
	m.degraded = len(problems) > 0
	now := m.degraded
	m.mu.Unlock()

	switch {
	case now && !was:
		for _, p := range problems {
			m.log.WarnContext(ctx, "health degraded", slog.String("problem", p))
		}
		m.notifier.Notify(ctx, domain.NotifyError,
			fmt.Sprintf("Health degraded: %v", problems))
	case !now && was:
		m.log.InfoContext(ctx, "health recovered")
		m.notifier.Notify(ctx, domain.NotifyBotStatus, "Health recovered")
	}
}
