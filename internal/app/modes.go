package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"gridbot/internal/report"
	"gridbot/internal/server"
	"gridbot/internal/server/handler"
	"gridbot/internal/server/ws"
)

// BacktestMode replays the dataset through the bot, then reports. The HTTP
// server, when enabled, serves live progress and shuts down with the run.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	g.Go(func() error {
		// The run ends when the data does; take the server down with it.
		defer cancel()
		if err := deps.Bot.Run(ctx, deps.Candles); err != nil {
			return fmt.Errorf("backtest: %w", err)
		}
		a.report(ctx, deps)
		return nil
	})

	return waitGroup(g)
}

// TradingMode runs live and paper trading: the bot consumes the price feed
// while the venue's order-update stream, the health monitor, and the HTTP
// server run alongside.
func (a *App) TradingMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trading mode",
		slog.String("mode", a.cfg.Mode),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Order-update stream: fills and cancels arrive here and enter the bus.
	if deps.Binance != nil {
		g.Go(func() error {
			err := deps.Binance.SubscribeOrderUpdates(ctx, deps.Bus)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("order update stream: %w", err)
		})
	}

	if deps.Health != nil {
		g.Go(func() error {
			err := deps.Health.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	g.Go(func() error {
		// Stop (API or risk trigger) ends the whole run.
		defer cancel()
		if err := deps.Bot.Run(ctx, nil); err != nil && ctx.Err() == nil {
			return fmt.Errorf("trading: %w", err)
		}
		return nil
	})

	return waitGroup(g)
}

// startHTTPServer wires the API handlers and the WebSocket hub and adds the
// server goroutines to the group. The server shuts down gracefully when the
// context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	pair := a.cfg.Pair.String()

	hub := ws.NewHub(a.cfg.Mode, pair, a.logger)
	for _, ev := range hub.Events() {
		deps.Bus.Subscribe(ev, hub.Handler(ev))
	}
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(deps.Bot, deps.Grid, deps.Ledger, deps.Book, pair, a.cfg.Mode, a.logger),
		Grid:    handler.NewGridHandler(deps.Grid, a.logger),
		Orders:  handler.NewOrderHandler(deps.Book, a.logger),
		Control: handler.NewControlHandler(deps.Bot, a.logger),
	}

	var registry *prometheus.Registry
	if deps.Metrics != nil {
		registry = deps.Metrics.Registry()
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// report builds and emits the backtest performance summary.
func (a *App) report(ctx context.Context, deps *Dependencies) {
	summary := report.Build(a.cfg.Pair.String(), deps.Bot.EquitySeries(), deps.Book, deps.Ledger.FeesPaid())
	summary.Log(ctx, a.logger)

	if path := a.cfg.Trading.ReportPath; path != "" {
		if err := summary.WriteFile(path); err != nil {
			a.logger.ErrorContext(ctx, "report write failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.InfoContext(ctx, "report written", slog.String("path", path))
		}
	}

	if deps.BlobWriter != nil {
		key := fmt.Sprintf("reports/%s-%s.json", a.cfg.Pair.Symbol(), time.Now().UTC().Format("20060102T150405Z"))
		if err := summary.Upload(ctx, deps.BlobWriter, key); err != nil {
			a.logger.ErrorContext(ctx, "report upload failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.InfoContext(ctx, "report uploaded", slog.String("key", key))
		}
	}
}

// waitGroup drains the errgroup, treating a deliberate cancellation as a
// clean exit.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
