// Package metrics exposes the bot's Prometheus collectors. Order counters
// are fed by bus subscribers; balance and equity gauges are refreshed from
// ledger snapshots by the bot loop.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"gridbot/internal/domain"
	"gridbot/internal/ledger"
)

// Metrics holds every collector the bot registers.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersFailed    *prometheus.CounterVec
	FillsSimulated  prometheus.Counter

	FiatBalance    prometheus.Gauge
	CryptoBalance  prometheus.Gauge
	ReservedFiat   prometheus.Gauge
	ReservedCrypto prometheus.Gauge
	Equity         prometheus.Gauge
	FeesPaid       prometheus.Gauge

	PlacementLatency prometheus.Histogram

	registry *prometheus.Registry
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridbot",
			Name:      "orders_placed_total",
			Help:      "Orders successfully placed, by side.",
		}, []string{"side"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridbot",
			Name:      "orders_filled_total",
			Help:      "Order fills processed, by side.",
		}, []string{"side"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridbot",
			Name:      "orders_cancelled_total",
			Help:      "Order cancellations processed, by side.",
		}, []string{"side"}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridbot",
			Name:      "orders_failed_total",
			Help:      "Order placements that failed, by side.",
		}, []string{"side"}),
		FillsSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridbot",
			Name:      "fills_simulated_total",
			Help:      "Fills synthesized during backtests.",
		}),
		FiatBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "fiat_balance",
			Help:      "Free quote-currency balance.",
		}),
		CryptoBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "crypto_balance",
			Help:      "Free base-currency balance.",
		}),
		ReservedFiat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "reserved_fiat",
			Help:      "Quote currency reserved against open buy orders.",
		}),
		ReservedCrypto: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "reserved_crypto",
			Help:      "Base currency reserved against open sell orders.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "equity",
			Help:      "Total portfolio value at the latest price.",
		}),
		FeesPaid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridbot",
			Name:      "fees_paid_total",
			Help:      "Cumulative trading fees in quote currency.",
		}),
		PlacementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridbot",
			Name:      "placement_latency_seconds",
			Help:      "Latency of order placement round-trips.",
			Buckets:   prometheus.DefBuckets,
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.OrdersPlaced, m.OrdersFilled, m.OrdersCancelled, m.OrdersFailed,
		m.FillsSimulated,
		m.FiatBalance, m.CryptoBalance, m.ReservedFiat, m.ReservedCrypto,
		m.Equity, m.FeesPaid,
		m.PlacementLatency,
	)
	return m
}

// Registry returns the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveLedger refreshes the balance gauges from a ledger snapshot and the
// equity gauge from the given total value.
func (m *Metrics) ObserveLedger(snap ledger.Snapshot, equity float64) {
	m.FiatBalance.Set(snap.Fiat)
	m.CryptoBalance.Set(snap.Crypto)
	m.ReservedFiat.Set(snap.ReservedFiat)
	m.ReservedCrypto.Set(snap.ReservedCrypto)
	m.FeesPaid.Set(snap.FeesPaid)
	m.Equity.Set(equity)
}

// OnOrderFilled counts one fill. Wired as an order-filled bus subscriber.
func (m *Metrics) OnOrderFilled(_ context.Context, order *domain.Order) error {
	if order != nil {
		m.OrdersFilled.WithLabelValues(string(order.Side)).Inc()
	}
	return nil
}

// OnOrderCancelled counts one cancellation. Wired as an order-cancelled bus
// subscriber.
func (m *Metrics) OnOrderCancelled(_ context.Context, order *domain.Order) error {
	if order != nil {
		m.OrdersCancelled.WithLabelValues(string(order.Side)).Inc()
	}
	return nil
}
