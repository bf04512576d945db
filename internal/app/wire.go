package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "gridbot/internal/blob/s3"
	"gridbot/internal/bot"
	"gridbot/internal/cache/redis"
	"gridbot/internal/config"
	"gridbot/internal/crypto"
	"gridbot/internal/dataset"
	"gridbot/internal/domain"
	"gridbot/internal/events"
	"gridbot/internal/exchange"
	"gridbot/internal/exchange/binance"
	"gridbot/internal/exchange/sim"
	"gridbot/internal/grid"
	"gridbot/internal/health"
	"gridbot/internal/ledger"
	"gridbot/internal/metrics"
	"gridbot/internal/notify"
	"gridbot/internal/orchestrator"
	"gridbot/internal/orderbook"
	"gridbot/internal/store/postgres"
	"gridbot/internal/validation"
)

// Binance spot testnet hosts, substituted for the configured hosts in paper
// mode so paper orders never reach the production venue.
const (
	testnetRestHost = "https://testnet.binance.vision"
	testnetWsHost   = "wss://testnet.binance.vision"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core trading components.
	Grid   *grid.Manager
	Book   *orderbook.Book
	Ledger *ledger.Ledger
	Bus    *events.Bus
	Orch   *orchestrator.Orchestrator
	Bot    *bot.Bot

	// Exchange access. Binance is non-nil only in live and paper modes and
	// carries the user-data stream the bus feeds from.
	Service exchange.Service
	Binance *binance.Client

	// Backtest dataset, nil outside backtest mode.
	Candles []domain.Candle

	// Observers, each nil when disabled by config or mode.
	Metrics *metrics.Metrics
	Journal *postgres.OrderJournal
	Relay   *events.Relay
	Health  *health.Monitor

	// Notifications. The sink is always present; it drops everything in
	// backtest mode.
	Notifier *notify.Notifier
	Sink     *notify.Sink

	// Blob storage for s3:// datasets and report uploads, nil unless wired.
	BlobWriter domain.BlobWriter
}

// needsPostgres returns true for modes that journal orders.
func needsPostgres(mode string) bool {
	return mode == "live" || mode == "paper"
}

// needsRedis returns true for modes that relay events outward.
func needsRedis(mode string) bool {
	return mode == "live" || mode == "paper"
}

// needsS3 returns true for modes that read datasets or upload reports.
func needsS3(mode string) bool {
	return mode == "backtest"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)
	pair := cfg.Pair.String()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Core state ---
	gm, err := grid.NewManager(cfg.Grid, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: grid: %w", err)
	}
	deps.Grid = gm
	deps.Book = orderbook.New()
	deps.Ledger = ledger.New(cfg.Trading.InitialBalance, cfg.Trading.InitialCrypto, cfg.Exchange.TradingFee, logger)
	deps.Bus = events.NewBus(logger)

	// --- Notifications (disabled outright in backtests) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if mode == "backtest" {
		deps.Sink = notify.NewSink(nil, logger)
	} else {
		deps.Sink = notify.NewSink(deps.Notifier, logger)
	}

	// --- S3 blob storage ---
	var blobReader *s3blob.Reader
	if needsS3(mode) && cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		blobReader = s3blob.NewReader(s3Client)
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Exchange service ---
	if mode == "backtest" {
		loader := dataset.NewLoader(blobReader, logger)

		// Venue fetch needs a client; credentials are not required for
		// public market data.
		var fetchSvc exchange.Service
		if cfg.Trading.DataFile == "" {
			client, err := binance.NewClient(ctx, binance.Config{
				RestHost:       cfg.Exchange.RestHost,
				WsHost:         cfg.Exchange.WsHost,
				Base:           cfg.Pair.Base,
				Quote:          cfg.Pair.Quote,
				TickerInterval: cfg.Exchange.TickerInterval.Duration,
			}, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: venue data client: %w", err)
			}
			closers = append(closers, func() { _ = client.Close() })
			fetchSvc = client
		}

		start, end, err := cfg.Trading.Period()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		candles, err := loader.Load(ctx, fetchSvc, cfg.Trading.DataFile, pair, cfg.Trading.Interval, start, end)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: dataset: %w", err)
		}
		deps.Candles = candles
		deps.Service = sim.New(candles, deps.Ledger, logger)
	} else {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Exchange.ApiSecret,
			EncryptedPath: cfg.Exchange.EncryptedKeyPath,
			Password:      cfg.Exchange.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
		}

		restHost, wsHost := cfg.Exchange.RestHost, cfg.Exchange.WsHost
		if mode == "paper" {
			restHost, wsHost = testnetRestHost, testnetWsHost
		}
		client, err := binance.NewClient(ctx, binance.Config{
			RestHost:       restHost,
			WsHost:         wsHost,
			APIKey:         cfg.Exchange.ApiKey,
			APISecret:      secret,
			Base:           cfg.Pair.Base,
			Quote:          cfg.Pair.Quote,
			TickerInterval: cfg.Exchange.TickerInterval.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		deps.Service = client
		deps.Binance = client
	}

	// --- Orchestrator and bot ---
	deps.Orch = orchestrator.New(
		deps.Grid, deps.Book, deps.Ledger, validation.New(),
		deps.Service, deps.Bus, deps.Sink,
		pair, mode == "backtest", logger,
	)

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	deps.Bot = bot.New(
		deps.Orch, deps.Grid, deps.Ledger, deps.Service, deps.Bus,
		deps.Metrics, pair, mode, cfg.Risk, logger,
	)

	// --- PostgreSQL order journal ---
	if needsPostgres(mode) && cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewOrderJournal(pgClient.Pool())
	}

	// --- Redis event relay ---
	if needsRedis(mode) && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		signals := redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Relay = events.NewRelay(deps.Bus, signals, logger)
	}

	// --- Health monitor ---
	if mode != "backtest" && cfg.Health.Enabled {
		deps.Health = health.NewMonitor(
			deps.Service, deps.Ledger, deps.Sink,
			pair, cfg.Health.Interval.Duration, logger,
		)
		deps.Bot.OnTick(deps.Health.ObserveTick)
	}

	subscribeBus(deps)

	return deps, cleanup, nil
}

// subscribeBus attaches every observer to the event bus. Settlement and the
// orchestrator's fill cascade are composed into one sequential handler: the
// cascade reserves funds for paired orders, so the ledger must settle the
// fill first. Everything else observes concurrently.
func subscribeBus(deps *Dependencies) {
	l, orch := deps.Ledger, deps.Orch
	deps.Bus.Subscribe(domain.EventOrderFilled, func(ctx context.Context, order *domain.Order) error {
		if err := l.OnOrderFilled(ctx, order); err != nil {
			return err
		}
		return orch.OnOrderFilled(ctx, order)
	})
	deps.Bus.Subscribe(domain.EventOrderCancelled, orch.OnOrderCancelled)

	deps.Bus.Subscribe(domain.EventOrderFilled, deps.Sink.OnOrderFilled)

	if deps.Metrics != nil {
		deps.Bus.Subscribe(domain.EventOrderFilled, deps.Metrics.OnOrderFilled)
		deps.Bus.Subscribe(domain.EventOrderCancelled, deps.Metrics.OnOrderCancelled)
	}
	if deps.Journal != nil {
		deps.Bus.Subscribe(domain.EventOrderFilled, deps.Journal.OnOrderFilled)
		deps.Bus.Subscribe(domain.EventOrderCancelled, deps.Journal.OnOrderCancelled)
	}
}
