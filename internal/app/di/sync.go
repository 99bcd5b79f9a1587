package di

import (
	"time"

	"price_history/internal/app/config"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/snapshot"
	"price_history/internal/shared/ratelimiter"
)

// NewSyncUsecase wires the orchestrator with its pacing, history and snapshot options.
func NewSyncUsecase(cfg *config.Config, source usecase.RawRowSource, store *Store) *usecase.SyncUsecase {
	opts := []usecase.Option{
		usecase.WithRateLimiter(ratelimiter.NewRateLimiter(cfg.Sync.RateLimit, time.Minute)),
	}
	if store.Runs != nil {
		opts = append(opts, usecase.WithRecorder(store.Runs))
	}
	if cfg.SnapshotDir != "" {
		opts = append(opts, usecase.WithSnapshotSink(snapshot.NewParquetSink(cfg.SnapshotDir)))
	}

	return usecase.NewSyncUsecase(usecase.SyncConfig{
		Symbols:      cfg.Sync.Symbols,
		EpochStart:   cfg.Sync.EpochStart,
		Concurrency:  cfg.Sync.Concurrency,
		FetchTimeout: cfg.Sync.FetchTimeout,
	}, source, store.Bars, opts...)
}
