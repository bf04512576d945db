// Package report computes and publishes the backtest performance summary.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gridbot/internal/domain"
	"gridbot/internal/orderbook"
)

// EquityPoint is one sample of portfolio value over the run.
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// Summary is the end-of-run performance report.
type Summary struct {
	Pair        string    `json:"pair"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Bars        int       `json:"bars"`
	StartEquity float64   `json:"start_equity"`
	EndEquity   float64   `json:"end_equity"`
	ROIPercent  float64   `json:"roi_percent"`
	MaxDrawdown float64   `json:"max_drawdown_percent"`
	BuyOrders   int       `json:"buy_orders"`
	SellOrders  int       `json:"sell_orders"`
	FilledCount int       `json:"filled_count"`
	FeesPaid    float64   `json:"fees_paid"`

	Equity []EquityPoint `json:"equity_curve,omitempty"`
}

// Build computes the summary from the recorded equity curve and the order
// book.
func Build(pair string, equity []EquityPoint, book *orderbook.Book, feesPaid float64) Summary {
	s := Summary{
		Pair:       pair,
		FinishedAt: time.Now().UTC(),
		Bars:       len(equity),
		FeesPaid:   feesPaid,
		Equity:     equity,
	}
	if len(equity) > 0 {
		s.StartedAt = time.UnixMilli(equity[0].Timestamp).UTC()
		s.StartEquity = equity[0].Equity
		s.EndEquity = equity[len(equity)-1].Equity
		if s.StartEquity > 0 {
			s.ROIPercent = (s.EndEquity - s.StartEquity) / s.StartEquity * 100
		}
		s.MaxDrawdown = maxDrawdown(equity)
	}
	s.BuyOrders, s.SellOrders = book.Counts()
	s.FilledCount = len(book.CompletedOrders())
	return s
}

// maxDrawdown returns the largest peak-to-trough decline as a positive
// percentage.
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Log writes the summary as a readable table through the logger.
func (s Summary) Log(ctx context.Context, log *slog.Logger) {
	log.InfoContext(ctx, "backtest complete",
		slog.String("pair", s.Pair),
		slog.Int("bars", s.Bars),
		slog.Float64("start_equity", s.StartEquity),
		slog.Float64("end_equity", s.EndEquity),
		slog.Float64("roi_percent", s.ROIPercent),
		slog.Float64("max_drawdown_percent", s.MaxDrawdown),
		slog.Int("buys", s.BuyOrders),
		slog.Int("sells", s.SellOrders),
		slog.Int("fills", s.FilledCount),
		slog.Float64("fees_paid", s.FeesPaid),
	)
}

// WriteFile saves the summary as indented JSON at path.
func (s Summary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// Upload pushes the summary JSON to object storage under key.
func (s Summary) Upload(ctx context.Context, w domain.BlobWriter, key string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := w.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("report: upload %s: %w", key, err)
	}
	return nil
}
