package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/queue"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
	"github.com/alanyoungcy/flasharb/internal/store/sqlite"
)

// executionLog is an execution store the archiver can prune.
type executionLog interface {
	domain.ExecutionStore
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Dependencies bundles the infrastructure the modes run on. It is constructed
// by Wire and torn down by the returned cleanup function. Optional pieces are
// nil when their backend is disabled.
type Dependencies struct {
	// Stores
	ExecutionStore executionLog
	AuditStore     domain.AuditStore
	Samples        domain.ProfitSampleStore
	Registry       domain.TokenRegistry

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Cooldowns   domain.CooldownStore
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Queue
	Publisher *queue.Publisher

	// Notifications
	Notifier *notify.Notifier

	// Checks feeds GET /api/health.
	Checks map[string]handler.Check
}

// memoryStreamLen bounds each in-process stream when redis is disabled.
const memoryStreamLen = 10_000

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL, or the in-process log ---
	if cfg.Postgres.Enabled {
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.Migrate(ctx)
			if err != nil {
				return fail("postgres migrations", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "postgres migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	} else {
		logger.InfoContext(ctx, "postgres disabled, execution log kept in memory")
		deps.ExecutionStore = memory.NewExecutionStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- SQLite (profit samples, token registry) ---
	local, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return fail("sqlite", err)
	}
	closers = append(closers, func() { _ = local.Close() })
	deps.Samples = local.Samples()
	deps.Registry = local.Tokens()

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Price.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Relay.RateLimit, cfg.Relay.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Cooldowns = redis.NewCooldownStore(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled, using in-process cooldowns and signal bus")
		deps.Cooldowns = memory.NewCooldownStore()
		deps.SignalBus = memory.NewSignalBus(memoryStreamLen)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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
			return fail("s3", err)
		}
		store := s3blob.NewStore(s3Client)
		deps.BlobWriter = store
		deps.BlobReader = store
		deps.Archiver = s3blob.NewArchiver(store, deps.ExecutionStore, deps.AuditStore, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := queue.WaitForBroker(waitCtx, cfg.Kafka.Brokers)
		cancel()
		if err != nil {
			return fail("kafka", err)
		}
		for _, topic := range []string{cfg.Kafka.ExecutionsTopic, cfg.Kafka.CandidatesTopic} {
			if err := queue.EnsureTopic(ctx, cfg.Kafka.Brokers, topic, cfg.Kafka.Partitions); err != nil {
				return fail("kafka", err)
			}
		}
		pub := queue.NewPublisher(
			queue.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.ExecutionsTopic),
			queue.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.CandidatesTopic),
			logger,
		)
		closers = append(closers, func() { _ = pub.Close() })
		deps.Publisher = pub
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
	deps.Notifier = notify.NewNotifier(senders, notify.Config{
		Events:   cfg.Notify.Events,
		Throttle: cfg.Notify.Throttle.Duration,
	}, deps.RateLimiter, logger)
	// Let in-flight alerts finish before the stores close.
	closers = append(closers, deps.Notifier.Wait)

	return deps, cleanup, nil
}
