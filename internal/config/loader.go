package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GRIDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GRIDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "GRIDBOT_EXCHANGE_NAME")
	setStr(&cfg.Exchange.RestHost, "GRIDBOT_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "GRIDBOT_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.ApiKey, "GRIDBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "GRIDBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedKeyPath, "GRIDBOT_EXCHANGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "GRIDBOT_EXCHANGE_KEY_PASSWORD")
	setFloat64(&cfg.Exchange.TradingFee, "GRIDBOT_EXCHANGE_TRADING_FEE")
	setDuration(&cfg.Exchange.TickerInterval, "GRIDBOT_EXCHANGE_TICKER_INTERVAL")

	// ── Pair ──
	setStr(&cfg.Pair.Base, "GRIDBOT_PAIR_BASE")
	setStr(&cfg.Pair.Quote, "GRIDBOT_PAIR_QUOTE")

	// ── Trading ──
	setStr(&cfg.Trading.Interval, "GRIDBOT_TRADING_INTERVAL")
	setStr(&cfg.Trading.StartDate, "GRIDBOT_TRADING_START_DATE")
	setStr(&cfg.Trading.EndDate, "GRIDBOT_TRADING_END_DATE")
	setFloat64(&cfg.Trading.InitialBalance, "GRIDBOT_TRADING_INITIAL_BALANCE")
	setFloat64(&cfg.Trading.InitialCrypto, "GRIDBOT_TRADING_INITIAL_CRYPTO_BALANCE")
	setStr(&cfg.Trading.DataFile, "GRIDBOT_TRADING_DATA_FILE")
	setStr(&cfg.Trading.ReportPath, "GRIDBOT_TRADING_REPORT_PATH")

	// ── Grid ──
	setStr(&cfg.Grid.Strategy, "GRIDBOT_GRID_STRATEGY")
	setStr(&cfg.Grid.Spacing, "GRIDBOT_GRID_SPACING")
	setInt(&cfg.Grid.Levels, "GRIDBOT_GRID_LEVELS")
	setFloat64(&cfg.Grid.Bottom, "GRIDBOT_GRID_BOTTOM")
	setFloat64(&cfg.Grid.Top, "GRIDBOT_GRID_TOP")

	// ── Risk ──
	setBool(&cfg.Risk.TakeProfitEnabled, "GRIDBOT_RISK_TAKE_PROFIT_ENABLED")
	setFloat64(&cfg.Risk.TakeProfitThreshold, "GRIDBOT_RISK_TAKE_PROFIT_THRESHOLD")
	setBool(&cfg.Risk.StopLossEnabled, "GRIDBOT_RISK_STOP_LOSS_ENABLED")
	setFloat64(&cfg.Risk.StopLossThreshold, "GRIDBOT_RISK_STOP_LOSS_THRESHOLD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GRIDBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GRIDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GRIDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GRIDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GRIDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GRIDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GRIDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GRIDBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "GRIDBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "GRIDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GRIDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GRIDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GRIDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GRIDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GRIDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GRIDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GRIDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GRIDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GRIDBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "GRIDBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GRIDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GRIDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GRIDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GRIDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GRIDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GRIDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GRIDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GRIDBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GRIDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GRIDBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GRIDBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GRIDBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GRIDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GRIDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GRIDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GRIDBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "GRIDBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "GRIDBOT_METRICS_PATH")

	// ── Health ──
	setBool(&cfg.Health.Enabled, "GRIDBOT_HEALTH_ENABLED")
	setDuration(&cfg.Health.Interval, "GRIDBOT_HEALTH_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "GRIDBOT_MODE")
	setStr(&cfg.LogLevel, "GRIDBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
