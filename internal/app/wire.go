package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/SSC023/polymarket-btc-hft-bot/internal/blob/s3"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/cache/redis"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/notify"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/server/handler"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure around the core. Every
// field is nil when its backend is disabled in config.
type Dependencies struct {
	// Stores
	OrderStore domain.OrderStore
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager

	// Blob storage
	Archiver domain.WindowArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes for /api/health, keyed by backend.
	Checks map[string]handler.Check
}

// Wire connects the enabled backends and returns them with a cleanup func
// that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, cfg.Supabase)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable at startup",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}
