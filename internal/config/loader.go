package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "FUNDARB_EXCHANGE_NAME")
	setStr(&cfg.Exchange.APIKey, "FUNDARB_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.Secret, "FUNDARB_EXCHANGE_SECRET")
	setBool(&cfg.Exchange.Testnet, "FUNDARB_EXCHANGE_TESTNET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDARB_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "FUNDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FUNDARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUNDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDARB_S3_SECRET_KEY")

	// ── Filter ──
	setFloat64(&cfg.Filter.MinFundingRate, "FUNDARB_FILTER_MIN_FUNDING_RATE")
	setFloat64(&cfg.Filter.MinVolume24h, "FUNDARB_FILTER_MIN_VOLUME_24H")
	setFloat64(&cfg.Filter.MaxVolume24h, "FUNDARB_FILTER_MAX_VOLUME_24H")
	setFloat64(&cfg.Filter.MinDepth, "FUNDARB_FILTER_MIN_DEPTH")
	setFloat64(&cfg.Filter.MaxSpread, "FUNDARB_FILTER_MAX_SPREAD")
	setBool(&cfg.Filter.AllowNegativeRates, "FUNDARB_FILTER_ALLOW_NEGATIVE_RATES")

	// ── Capital ──
	setFloat64(&cfg.Capital.Initial, "FUNDARB_CAPITAL_INITIAL")
	setFloat64(&cfg.Capital.MaxPositionRatio, "FUNDARB_CAPITAL_MAX_POSITION_RATIO")
	setFloat64(&cfg.Capital.MaxSingleRatio, "FUNDARB_CAPITAL_MAX_SINGLE_RATIO")

	// ── Executor ──
	setInt(&cfg.Executor.DefaultLeverage, "FUNDARB_EXECUTOR_DEFAULT_LEVERAGE")
	setFloat64(&cfg.Executor.DeltaTolerance, "FUNDARB_EXECUTOR_DELTA_TOLERANCE")

	// ── Engine ──
	setInt(&cfg.Engine.ScanIntervalSec, "FUNDARB_ENGINE_SCAN_INTERVAL_SEC")
	setBool(&cfg.Engine.StreamRates, "FUNDARB_ENGINE_STREAM_RATES")
	setBool(&cfg.Engine.ArchiveLedger, "FUNDARB_ENGINE_ARCHIVE_LEDGER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramBotToken, "FUNDARB_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_DISCORD_WEBHOOK_URL")

	// ── Misc ──
	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
