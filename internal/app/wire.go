package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "fundarb/internal/blob/s3"
	"fundarb/internal/cache/redis"
	"fundarb/internal/config"
	"fundarb/internal/domain"
	"fundarb/internal/exchange"
	"fundarb/internal/notify"
	"fundarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Gateway exchange.Gateway

	PositionStore domain.PositionStore
	FundingStore  domain.FundingStore

	RateCache domain.RateCache
	Cooldown  domain.Cooldown

	Archiver domain.LedgerArchiver

	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode requires persistence. Scan-only
// runs work without a database.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "report":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Exchange gateway, selected by name.
	gateway, err := exchange.New(cfg.Exchange.Name, exchange.Credentials{
		APIKey:  cfg.Exchange.APIKey,
		Secret:  cfg.Exchange.Secret,
		Testnet: cfg.Exchange.Testnet,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: gateway: %w", err)
	}
	closers = append(closers, func() { _ = gateway.Close() })
	deps.Gateway = gateway

	if needsPostgres(cfg.Mode) {
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

		deps.PositionStore = postgres.NewPositionStore(pgClient)
		deps.FundingStore = postgres.NewFundingStore(pgClient)
	}

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

	deps.RateCache = redis.NewRateCache(redisClient, cfg.Engine.RateCacheTTL())
	deps.Cooldown = redis.NewCooldown(redisClient)

	// Ledger archiving is opt-in via a configured bucket.
	if cfg.Engine.ArchiveLedger && cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewLedgerArchiver(s3Client)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBotToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
