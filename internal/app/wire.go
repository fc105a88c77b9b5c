package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openwager/wagerd/internal/archive"
	"github.com/openwager/wagerd/internal/bank"
	s3blob "github.com/openwager/wagerd/internal/blob/s3"
	"github.com/openwager/wagerd/internal/cache/redis"
	"github.com/openwager/wagerd/internal/chain"
	"github.com/openwager/wagerd/internal/config"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/ledger"
	"github.com/openwager/wagerd/internal/notify"
	"github.com/openwager/wagerd/internal/service"
	"github.com/openwager/wagerd/internal/state/memory"
	"github.com/openwager/wagerd/internal/store/postgres"
)

// Dependencies bundles everything the serve mode needs to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	State  domain.State
	Chain  *chain.Source
	Bank   *bank.Service
	Ledger *service.LedgerService

	// Optional infrastructure; nil when not configured.
	Redis    *redis.Client
	Bus      domain.EventBus
	Postgres *postgres.Client
	Archiver *archive.Scheduler
	Notifier notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- State backend ---
	needsPostgres := strings.ToLower(cfg.StateBackend) == "postgres" ||
		strings.ToLower(cfg.Mode) == "migrate"
	if needsPostgres {
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

		if cfg.Postgres.RunMigrations || strings.ToLower(cfg.Mode) == "migrate" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Postgres = pgClient
		deps.State = postgres.NewState(pgClient.Pool())
	} else {
		deps.State = memory.New()
	}

	// --- Redis: cache, lock manager, event bus ---
	var (
		marketCache domain.MarketCache
		locks       domain.LockManager
		bus         domain.EventBus
	)
	if cfg.Redis.Enabled {
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

		deps.Redis = redisClient
		marketCache = redis.NewMarketCache(redisClient)
		locks = redis.NewLockManager(redisClient)
		bus = redis.NewEventBus(redisClient)
		deps.Bus = bus
	}

	// --- Notifications ---
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
	var notifier notify.Notifier
	if len(senders) > 0 {
		notifier = notify.NewDispatcher(senders, logger)
	}
	deps.Notifier = notifier

	// --- Core ---
	deps.Chain = chain.NewSource(deps.State)
	deps.Bank = bank.NewService(deps.State, logger)

	core := ledger.New(deps.State, bank.NewTransferrer(), deps.Chain, cfg.Bank.CustodyAccount, logger)
	deps.Ledger = service.NewLedgerService(core, locks, marketCache, bus, notifier, logger)

	// --- Settlement archiver ---
	if cfg.Archive.Enabled {
		if deps.Postgres == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archiver requires the postgres backend")
		}
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

		archiver := archive.New(
			postgres.NewArchiveStore(deps.Postgres.Pool()),
			s3blob.NewWriter(s3Client),
			cfg.Archive.BatchSize,
			logger,
		)
		scheduler, err := archive.NewScheduler(archiver, cfg.Archive.Cron, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archiver: %w", err)
		}
		deps.Archiver = scheduler
	}

	return deps, cleanup, nil
}
