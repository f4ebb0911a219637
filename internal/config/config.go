// Package config defines the top-level configuration for the funding
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDARB_* environment
// variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Filter    FilterConfig    `toml:"filter"`
	Capital   CapitalConfig   `toml:"capital"`
	Executor  ExecutorConfig  `toml:"executor"`
	Risk      RiskConfig      `toml:"risk"`
	Rotation  RotationConfig  `toml:"rotation"`
	Engine    EngineConfig    `toml:"engine"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig selects and authenticates the exchange gateway.
type ExchangeConfig struct {
	Name    string `toml:"name"`
	APIKey  string `toml:"api_key"`
	Secret  string `toml:"secret"`
	Testnet bool   `toml:"testnet"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for the ledger archiver. The
// archiver is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FilterConfig holds the pool-selection thresholds. The volume window is the
// central heuristic: it excludes both illiquid markets and the crowded,
// large-capital ones.
type FilterConfig struct {
	MinFundingRate     float64  `toml:"min_funding_rate"`
	MinVolume24h       float64  `toml:"min_volume_24h"`
	MaxVolume24h       float64  `toml:"max_volume_24h"`
	MinDepth           float64  `toml:"min_depth"`
	MaxSpread          float64  `toml:"max_spread"`
	DepthBandPct       float64  `toml:"depth_band_pct"`
	OrderBookLevels    int      `toml:"order_book_levels"`
	AllowNegativeRates bool     `toml:"allow_negative_rates"`
	Blacklist          []string `toml:"blacklist"`
}

// CapitalConfig bounds how much capital the engine may deploy.
type CapitalConfig struct {
	Initial          float64 `toml:"initial"`
	MaxPositionRatio float64 `toml:"max_position_ratio"`
	MaxSingleRatio   float64 `toml:"max_single_ratio"`
	MinOrderNotional float64 `toml:"min_order_notional"`
	QuoteAsset       string  `toml:"quote_asset"`
}

// ExecutorConfig holds trade-execution parameters.
type ExecutorConfig struct {
	DefaultLeverage int     `toml:"default_leverage"`
	DeltaTolerance  float64 `toml:"delta_tolerance"`
	SpotFeeRate     float64 `toml:"spot_fee_rate"`
	PerpFeeRate     float64 `toml:"perp_fee_rate"`
}

// RiskConfig holds the rule-chain thresholds.
type RiskConfig struct {
	MarginWarning     float64 `toml:"margin_warning"`
	MarginDanger      float64 `toml:"margin_danger"`
	MarginClose       float64 `toml:"margin_close"`
	MaxLossPerTrade   float64 `toml:"max_loss_per_trade"`
	MaxLossDaily      float64 `toml:"max_loss_daily"`
	MaxLossTotal      float64 `toml:"max_loss_total"`
	ReversalPeriods   int     `toml:"reversal_watch_periods"`
	ReversalThreshold float64 `toml:"reversal_threshold"`
}

// RotationConfig controls closing a weaker position to fund a stronger one.
type RotationConfig struct {
	Enabled            bool    `toml:"enabled"`
	MinRateImprovement float64 `toml:"min_rate_improvement"`
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
}

// EngineConfig holds cycle scheduling parameters.
type EngineConfig struct {
	ScanIntervalSec int     `toml:"scan_interval_sec"`
	ExitRateAbs     float64 `toml:"exit_rate_abs"`
	CooldownSec     int     `toml:"cooldown_sec"`
	RateCacheSec    int     `toml:"rate_cache_sec"`
	FundingSyncDays int     `toml:"funding_sync_days"`
	StreamRates     bool    `toml:"stream_rates"`
	ArchiveLedger   bool    `toml:"archive_ledger"`
}

// ScanInterval returns the cycle period as a duration.
func (e EngineConfig) ScanInterval() time.Duration {
	return time.Duration(e.ScanIntervalSec) * time.Second
}

// CooldownTTL returns how long a just-closed symbol stays blocked.
func (e EngineConfig) CooldownTTL() time.Duration {
	return time.Duration(e.CooldownSec) * time.Second
}

// RateCacheTTL returns the expiry of cached funding rates.
func (e EngineConfig) RateCacheTTL() time.Duration {
	return time.Duration(e.RateCacheSec) * time.Second
}

// NotifyConfig configures notification delivery. A channel is enabled by
// giving it credentials; an empty Events list allows every event type.
type NotifyConfig struct {
	TelegramBotToken  string   `toml:"telegram_bot_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with conservative defaults matching a
// small-capital operator on Binance.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{Name: "binance", Testnet: true},
		Postgres: PostgresConfig{
			Host: "localhost", Port: 5432, Database: "fundarb",
			SSLMode: "disable", PoolMaxConns: 8, PoolMinConns: 2,
			RunMigrations: true,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 8, MaxRetries: 3},
		Filter: FilterConfig{
			MinFundingRate:  0.0003,
			MinVolume24h:    500_000,
			MaxVolume24h:    5_000_000,
			MinDepth:        10_000,
			MaxSpread:       0.001,
			DepthBandPct:    0.005,
			OrderBookLevels: 20,
		},
		Capital: CapitalConfig{
			Initial:          1000,
			MaxPositionRatio: 0.8,
			MaxSingleRatio:   0.3,
			MinOrderNotional: 100,
			QuoteAsset:       "USDT",
		},
		Executor: ExecutorConfig{
			DefaultLeverage: 2,
			DeltaTolerance:  0.05,
			SpotFeeRate:     0.001,
			PerpFeeRate:     0.0004,
		},
		Risk: RiskConfig{
			MarginWarning:     0.5,
			MarginDanger:      0.35,
			MarginClose:       0.25,
			MaxLossPerTrade:   0.02,
			MaxLossDaily:      0.05,
			MaxLossTotal:      0.10,
			ReversalPeriods:   2,
			ReversalThreshold: 0.0001,
		},
		Rotation: RotationConfig{
			Enabled:            true,
			MinRateImprovement: 0.0005,
			MinProfitThreshold: 0,
		},
		Engine: EngineConfig{
			ScanIntervalSec: 300,
			ExitRateAbs:     0,
			CooldownSec:     1800,
			RateCacheSec:    900,
			FundingSyncDays: 3,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would make the
// engine misbehave. It returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "scan", "report":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Exchange.Name == "" {
		return fmt.Errorf("config: exchange.name is required")
	}
	if c.Filter.MinVolume24h > c.Filter.MaxVolume24h {
		return fmt.Errorf("config: filter volume window inverted (min %.0f > max %.0f)",
			c.Filter.MinVolume24h, c.Filter.MaxVolume24h)
	}
	if c.Filter.MinFundingRate < 0 {
		return fmt.Errorf("config: filter.min_funding_rate must be >= 0")
	}
	if c.Filter.MaxSpread <= 0 {
		return fmt.Errorf("config: filter.max_spread must be > 0")
	}
	if c.Filter.MinDepth <= 0 {
		return fmt.Errorf("config: filter.min_depth must be > 0")
	}
	if c.Executor.DefaultLeverage < 1 {
		return fmt.Errorf("config: executor.default_leverage must be >= 1")
	}
	if c.Executor.DeltaTolerance <= 0 {
		return fmt.Errorf("config: executor.delta_tolerance must be > 0")
	}
	if !(c.Risk.MarginClose < c.Risk.MarginDanger && c.Risk.MarginDanger < c.Risk.MarginWarning) {
		return fmt.Errorf("config: margin thresholds must satisfy close < danger < warning")
	}
	if c.Engine.ScanIntervalSec <= 0 {
		return fmt.Errorf("config: engine.scan_interval_sec must be > 0")
	}
	if c.Capital.MaxSingleRatio > c.Capital.MaxPositionRatio {
		return fmt.Errorf("config: capital.max_single_ratio exceeds max_position_ratio")
	}
	return nil
}
