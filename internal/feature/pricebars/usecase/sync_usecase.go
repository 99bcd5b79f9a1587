// Package usecase implements incremental synchronization of daily price bars.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/shared/ratelimiter"
)

const (
	// DefaultFetchTimeout bounds a single provider call.
	DefaultFetchTimeout = 30 * time.Second
)

// DefaultEpochStart is the first day considered when a symbol has no watermark.
var DefaultEpochStart = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// RawRowSource fetches raw bars for one symbol from a market-data provider.
// Each implementation absorbs one provider's response shape.
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type RawRowSource interface {
	// FetchRaw returns all bars in window; From is inclusive. An empty table is not an error.
	FetchRaw(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error)
}

// WatermarkStore exposes the latest persisted price_date per symbol.
type WatermarkStore interface {
	LastDate(ctx context.Context, symbol string) (time.Time, bool, error)
	LastDates(ctx context.Context) (map[string]time.Time, error)
}

// Reconciler writes bars so that each (symbol, price_date) is inserted or updated in place.
type Reconciler interface {
	Reconcile(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error)
}

// PriceBarStore is the persistent store used by a sync run.
type PriceBarStore interface {
	WatermarkStore
	Reconciler
}

// RunRecorder persists the report of a finished run.
type RunRecorder interface {
	Record(ctx context.Context, report entity.RunReport) error
}

// SnapshotSink receives the normalized bars of each symbol before they are reconciled.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, runID uuid.UUID, symbol string, bars []entity.PriceBar) error
}

// SyncConfig is the explicit configuration of a SyncUsecase.
type SyncConfig struct {
	Symbols      []string         // ordered symbol set
	EpochStart   time.Time        // lower bound when a symbol has no watermark
	Concurrency  int              // symbols processed at once; <= 1 means sequential
	FetchTimeout time.Duration    // bound for one provider call
	Now          func() time.Time // clock, time.Now when nil
}

// Option customizes a SyncUsecase.
type Option func(*SyncUsecase)

// WithRateLimiter paces provider calls.
func WithRateLimiter(rl ratelimiter.RateLimiterInterface) Option {
	return func(u *SyncUsecase) { u.limiter = rl }
}

// WithRecorder stores each run report.
func WithRecorder(r RunRecorder) Option {
	return func(u *SyncUsecase) { u.recorder = r }
}

// WithSnapshotSink exports normalized bars of every symbol.
func WithSnapshotSink(s SnapshotSink) Option {
	return func(u *SyncUsecase) { u.snapshots = s }
}

// SyncUsecase は外部APIから差分データのみを取得し、データベースへ冪等に反映するユースケースです。
type SyncUsecase struct {
	cfg       SyncConfig
	source    RawRowSource
	store     PriceBarStore
	limiter   ratelimiter.RateLimiterInterface
	recorder  RunRecorder
	snapshots SnapshotSink

	running sync.Mutex
}

// NewSyncUsecase は新しい SyncUsecase を作成します。
func NewSyncUsecase(cfg SyncConfig, source RawRowSource, store PriceBarStore, opts ...Option) *SyncUsecase {
	if cfg.EpochStart.IsZero() {
		cfg.EpochStart = DefaultEpochStart
	}
	cfg.EpochStart = entity.DateOf(cfg.EpochStart)
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Symbols = append([]string(nil), cfg.Symbols...)

	u := &SyncUsecase{cfg: cfg, source: source, store: store}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Symbols returns the configured symbol set.
func (u *SyncUsecase) Symbols() []string {
	return append([]string(nil), u.cfg.Symbols...)
}

// DeltaStart returns the first date to request: the day after the watermark,
// or the day after epoch when there is no watermark.
func DeltaStart(last time.Time, ok bool, epoch time.Time) time.Time {
	base := epoch
	if ok {
		base = last
	}
	return entity.DateOf(base).AddDate(0, 0, 1)
}

// Run は設定された全銘柄について差分同期を1回実行します。
// ウォーターマークの読み取りに失敗した場合のみ実行全体を中断し、
// それ以外の銘柄単位のエラーはレポートに記録して処理を続けます。
func (u *SyncUsecase) Run(ctx context.Context) (entity.RunReport, error) {
	if !u.running.TryLock() {
		return entity.RunReport{}, domain.ErrRunInProgress
	}
	defer u.running.Unlock()

	report := entity.RunReport{RunID: uuid.New(), StartedAt: u.cfg.Now().UTC()}

	watermarks, err := u.store.LastDates(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		slog.Error("failed to read watermarks, aborting run", "run_id", report.RunID, "error", err)
		return report, fmt.Errorf("read watermarks: %w", err)
	}

	today := entity.DateOf(u.cfg.Now().UTC())
	report.Outcomes = make([]entity.SymbolOutcome, len(u.cfg.Symbols))

	var g errgroup.Group
	g.SetLimit(u.cfg.Concurrency)
	for i, symbol := range u.cfg.Symbols {
		i, symbol := i, symbol
		last, ok := watermarks[symbol]
		g.Go(func() error {
			report.Outcomes[i] = u.syncSymbol(ctx, report.RunID, symbol, last, ok, today)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = u.cfg.Now().UTC()
	report.Summarize()
	slog.Info("sync run finished",
		"run_id", report.RunID,
		"succeeded", len(report.SucceededSymbols),
		"skipped", len(report.SkippedSymbols),
		"failed", len(report.FailedSymbols))

	if u.recorder != nil {
		if err := u.recorder.Record(ctx, report); err != nil {
			slog.Warn("failed to record sync run", "run_id", report.RunID, "error", err)
		}
	}
	return report, nil
}

// syncSymbol drives one symbol through watermark, fetch, normalize and reconcile.
func (u *SyncUsecase) syncSymbol(ctx context.Context, runID uuid.UUID, symbol string, last time.Time, hasLast bool, today time.Time) entity.SymbolOutcome {
	out := entity.SymbolOutcome{Symbol: symbol}
	fail := func(err error) entity.SymbolOutcome {
		out.Status = entity.StatusFailed
		out.Error = err.Error()
		slog.Error("failed to sync symbol", "symbol", symbol, "error", err)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	start := DeltaStart(last, hasLast, u.cfg.EpochStart)
	out.Start = start.Format(entity.DateLayout)
	if start.After(today) {
		out.Status = entity.StatusSkip
		slog.Info("symbol up to date", "symbol", symbol, "start", out.Start)
		return out
	}

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	fctx, cancel := context.WithTimeout(ctx, u.cfg.FetchTimeout)
	raw, err := u.source.FetchRaw(fctx, symbol, entity.DateRange{From: start})
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrProviderFetch) {
			err = fmt.Errorf("%w: %v", domain.ErrProviderFetch, err)
		}
		return fail(err)
	}

	out.RowsFetched = raw.Len()
	if raw.Len() == 0 {
		out.Status = entity.StatusSkip
		slog.Info("no new data", "symbol", symbol, "start", out.Start)
		return out
	}

	norm, err := Normalize(raw, symbol)
	if err != nil {
		return fail(err)
	}
	out.SkippedInvalid = norm.SkippedInvalid
	for _, e := range norm.Invalid {
		slog.Warn("skipped invalid row", "symbol", symbol, "error", e)
	}
	if len(norm.Bars) == 0 {
		out.Status = entity.StatusSkip
		slog.Warn("all fetched rows were invalid", "symbol", symbol, "rows", out.RowsFetched)
		return out
	}

	if u.snapshots != nil {
		if err := u.snapshots.WriteSnapshot(ctx, runID, symbol, norm.Bars); err != nil {
			slog.Warn("failed to write snapshot", "symbol", symbol, "error", err)
		}
	}

	res, err := u.store.Reconcile(ctx, norm.Bars)
	if err != nil {
		return fail(fmt.Errorf("reconcile %s: %w", symbol, err))
	}
	out.Inserted = res.Inserted
	out.Updated = res.Updated
	out.FailedRows = len(res.Failed)
	for _, rf := range res.Failed {
		slog.Warn("failed to write bar", "symbol", rf.Symbol, "date", rf.PriceDate.Format(entity.DateLayout), "error", rf.Err)
	}
	if len(res.Failed) == len(norm.Bars) {
		return fail(fmt.Errorf("reconcile %s: all %d rows failed: %w", symbol, len(res.Failed), res.Failed[0].Err))
	}

	out.Status = entity.StatusSuccess
	slog.Info("symbol synced", "symbol", symbol, "start", out.Start,
		"fetched", out.RowsFetched, "inserted", out.Inserted, "updated", out.Updated,
		"skipped_invalid", out.SkippedInvalid, "failed_rows", out.FailedRows)
	return out
}
