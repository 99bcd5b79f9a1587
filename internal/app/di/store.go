package di

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"price_history/internal/app/config"
	"price_history/internal/feature/pricebars/adapters"
	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/platform/cache"
	"price_history/internal/platform/db"
	healthhandler "price_history/internal/platform/http/handler"
	infraredis "price_history/internal/platform/redis"
)

// RunStore records run reports and lists them back.
type RunStore interface {
	Record(ctx context.Context, report entity.RunReport) error
	ListRecent(ctx context.Context, limit int) ([]entity.RunReport, error)
}

// Store bundles the persistence components of one process.
type Store struct {
	Bars   cache.PriceBarRepository
	Runs   RunStore // nil when the engine keeps no run history
	Checks map[string]healthhandler.ReadinessCheck

	closers []func() error
}

// Close releases every connection opened by NewStore.
func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store resource", "error", err)
		}
	}
}

// NewStore opens the configured store engine and, when Redis is configured,
// wraps the bar repository with a read cache.
func NewStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	s := &Store{Checks: map[string]healthhandler.ReadinessCheck{}}

	switch cfg.StoreEngine {
	case config.EnginePgx:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, LogLevel: cfg.Log.Level})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if cfg.DB.RunMigrations {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				s.Close()
				return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
			}
		}
		s.Bars = adapters.NewPgxPriceBarRepository(pool)
		s.Checks["db"] = pgxCheck(pool)
	default:
		gdb, err := db.Open(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		s.closers = append(s.closers, func() error { return db.Close(gdb) })
		s.Bars = adapters.NewPriceBarRepository(gdb)
		s.Runs = adapters.NewSyncRunRepository(gdb)
		s.Checks["db"] = gormCheck(gdb)
	}

	if cfg.Redis.Enabled() {
		rdb, err := infraredis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable. Running without cache.", "error", err)
		} else {
			s.closers = append(s.closers, rdb.Close)
			s.Bars = cache.NewCachingPriceBarRepository(rdb, cfg.CacheTTL, s.Bars, "bars")
			s.Checks["redis"] = redisCheck(rdb)
		}
	}
	return s, nil
}

func gormCheck(gdb *gorm.DB) healthhandler.ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func pgxCheck(pool *pgxpool.Pool) healthhandler.ReadinessCheck {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func redisCheck(rdb *redisv9.Client) healthhandler.ReadinessCheck {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
