// Package config defines the top-level configuration for the grid trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GRIDBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Pair     PairConfig     `toml:"pair"`
	Trading  TradingConfig  `toml:"trading"`
	Grid     GridConfig     `toml:"grid"`
	Risk     RiskConfig     `toml:"risk"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Health   HealthConfig   `toml:"health"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds venue endpoints, credentials, and fee parameters.
type ExchangeConfig struct {
	Name             string   `toml:"name"`
	RestHost         string   `toml:"rest_host"`
	WsHost           string   `toml:"ws_host"`
	ApiKey           string   `toml:"api_key"`
	ApiSecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	TradingFee       float64  `toml:"trading_fee"`
	TickerInterval   duration `toml:"ticker_interval"`
}

// PairConfig identifies the traded pair.
type PairConfig struct {
	Base  string `toml:"base"`
	Quote string `toml:"quote"`
}

// Symbol returns the venue symbol form, e.g. "BTCUSDT".
func (p PairConfig) Symbol() string {
	return strings.ToUpper(p.Base + p.Quote)
}

// String returns the display form, e.g. "BTC/USDT".
func (p PairConfig) String() string {
	return strings.ToUpper(p.Base) + "/" + strings.ToUpper(p.Quote)
}

// TradingConfig holds run parameters shared by all trading modes.
type TradingConfig struct {
	Interval       string  `toml:"interval"`   // candle interval: 1m, 5m, 1h, ...
	StartDate      string  `toml:"start_date"` // RFC3339; bounds the backtest period
	EndDate        string  `toml:"end_date"`
	InitialBalance float64 `toml:"initial_balance"`
	InitialCrypto  float64 `toml:"initial_crypto_balance"`
	DataFile       string  `toml:"data_file"` // CSV path or s3:// URL; empty fetches from the venue
	ReportPath     string  `toml:"report_path"`
}

// GridConfig holds the static grid geometry.
type GridConfig struct {
	Strategy string  `toml:"strategy"` // "simple" or "hedged"
	Spacing  string  `toml:"spacing"`  // "arithmetic" or "geometric"
	Levels   int     `toml:"levels"`
	Bottom   float64 `toml:"bottom"`
	Top      float64 `toml:"top"`
}

// RiskConfig holds optional absolute take-profit / stop-loss price triggers.
type RiskConfig struct {
	TakeProfitEnabled   bool    `toml:"take_profit_enabled"`
	TakeProfitThreshold float64 `toml:"take_profit_threshold"`
	StopLossEnabled     bool    `toml:"stop_loss_enabled"`
	StopLossThreshold   float64 `toml:"stop_loss_threshold"`
}

// PostgresConfig holds connection parameters for the order journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event relay.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for datasets and
// backtest reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// HealthConfig holds the runtime health monitor parameters.
type HealthConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:           "binance",
			RestHost:       "https://api.binance.com",
			WsHost:         "wss://stream.binance.com:9443",
			TradingFee:     0.001,
			TickerInterval: duration{5 * time.Second},
		},
		Pair: PairConfig{
			Base:  "BTC",
			Quote: "USDT",
		},
		Trading: TradingConfig{
			Interval:       "1h",
			InitialBalance: 10000,
			InitialCrypto:  0,
		},
		Grid: GridConfig{
			Strategy: "simple",
			Spacing:  "arithmetic",
			Levels:   10,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "gridbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gridbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{
				"order_placed", "order_filled", "order_cancelled", "order_failed",
				"take_profit", "stop_loss", "bot_status", "error",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"paper":    true,
	"live":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validIntervals enumerates the supported candle intervals and their lengths.
var validIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration returns the candle interval as a time.Duration.
// Validate has already confirmed the interval is supported.
func (t TradingConfig) IntervalDuration() time.Duration {
	return validIntervals[t.Interval]
}

// Period returns the configured [start, end) backtest window. A zero time
// means the bound was not set.
func (t TradingConfig) Period() (start, end time.Time, err error) {
	if t.StartDate != "" {
		start, err = time.Parse(time.RFC3339, t.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: parse start_date: %w", err)
		}
	}
	if t.EndDate != "" {
		end, err = time.Parse(time.RFC3339, t.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: parse end_date: %w", err)
		}
	}
	return start, end, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, paper, live)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pair
	if c.Pair.Base == "" || c.Pair.Quote == "" {
		errs = append(errs, "pair: base and quote must not be empty")
	}

	// Exchange — credentials are needed whenever orders leave the process.
	needsCredentials := c.Mode == "live" || c.Mode == "paper"
	if needsCredentials {
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for mode "+c.Mode)
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedKeyPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
			errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
		}
		if c.Exchange.RestHost == "" {
			errs = append(errs, "exchange: rest_host must not be empty")
		}
		if c.Exchange.WsHost == "" {
			errs = append(errs, "exchange: ws_host must not be empty")
		}
	}
	if c.Exchange.TradingFee < 0 || c.Exchange.TradingFee >= 1 {
		errs = append(errs, fmt.Sprintf("exchange: trading_fee must be in [0, 1), got %v", c.Exchange.TradingFee))
	}
	if c.Exchange.TickerInterval.Duration <= 0 {
		errs = append(errs, "exchange: ticker_interval must be positive")
	}

	// Trading
	if _, ok := validIntervals[c.Trading.Interval]; !ok {
		errs = append(errs, fmt.Sprintf("trading: unsupported interval %q", c.Trading.Interval))
	}
	if c.Mode != "live" && c.Trading.InitialBalance <= 0 {
		errs = append(errs, "trading: initial_balance must be > 0 for mode "+c.Mode)
	}
	if c.Trading.InitialCrypto < 0 {
		errs = append(errs, "trading: initial_crypto_balance must be >= 0")
	}
	if _, _, err := c.Trading.Period(); err != nil {
		errs = append(errs, err.Error())
	} else if c.Mode == "backtest" && c.Trading.DataFile == "" {
		start, end, _ := c.Trading.Period()
		if start.IsZero() || end.IsZero() {
			errs = append(errs, "trading: backtest needs either data_file or both start_date and end_date")
		} else if !end.After(start) {
			errs = append(errs, "trading: end_date must be after start_date")
		}
	}

	// Grid
	if c.Grid.Strategy != "simple" && c.Grid.Strategy != "hedged" {
		errs = append(errs, fmt.Sprintf("grid: unknown strategy %q (valid: simple, hedged)", c.Grid.Strategy))
	}
	if c.Grid.Spacing != "arithmetic" && c.Grid.Spacing != "geometric" {
		errs = append(errs, fmt.Sprintf("grid: unknown spacing %q (valid: arithmetic, geometric)", c.Grid.Spacing))
	}
	if c.Grid.Levels < 3 {
		errs = append(errs, fmt.Sprintf("grid: levels must be >= 3, got %d", c.Grid.Levels))
	}
	if c.Grid.Bottom >= c.Grid.Top {
		errs = append(errs, fmt.Sprintf("grid: bottom (%v) must be below top (%v)", c.Grid.Bottom, c.Grid.Top))
	}
	if c.Grid.Spacing == "geometric" && c.Grid.Bottom <= 0 {
		errs = append(errs, "grid: bottom must be > 0 for geometric spacing")
	}

	// Risk
	if c.Risk.TakeProfitEnabled && c.Risk.TakeProfitThreshold <= 0 {
		errs = append(errs, "risk: take_profit_threshold must be > 0 when enabled")
	}
	if c.Risk.StopLossEnabled && c.Risk.StopLossThreshold <= 0 {
		errs = append(errs, "risk: stop_loss_threshold must be > 0 when enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must be >= 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Metrics
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with '/', got %q", c.Metrics.Path))
	}

	// Health
	if c.Health.Enabled && c.Health.Interval.Duration <= 0 {
		errs = append(errs, "health: interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
