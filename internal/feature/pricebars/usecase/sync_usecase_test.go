package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
)

var errNetwork = errors.New("connection reset by peer")

// mockSource is a mock implementation of the RawRowSource interface.
type mockSource struct {
	mu           sync.Mutex
	FetchRawFunc func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error)
	calls        []string
}

func (m *mockSource) FetchRaw(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
	m.mu.Lock()
	m.calls = append(m.calls, symbol)
	m.mu.Unlock()
	if m.FetchRawFunc != nil {
		return m.FetchRawFunc(ctx, symbol, window)
	}
	return entity.RawTable{}, errors.New("FetchRawFunc is not implemented")
}

func (m *mockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockStore is a mock implementation of the PriceBarStore interface.
type mockStore struct {
	mu            sync.Mutex
	LastDatesFunc func(ctx context.Context) (map[string]time.Time, error)
	ReconcileFunc func(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error)
	reconciled    map[string][]entity.PriceBar
}

func (m *mockStore) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	marks, err := m.LastDates(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	d, ok := marks[symbol]
	return d, ok, nil
}

func (m *mockStore) LastDates(ctx context.Context) (map[string]time.Time, error) {
	if m.LastDatesFunc != nil {
		return m.LastDatesFunc(ctx)
	}
	return map[string]time.Time{}, nil
}

func (m *mockStore) Reconcile(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
	m.mu.Lock()
	if m.reconciled == nil {
		m.reconciled = map[string][]entity.PriceBar{}
	}
	if len(bars) > 0 {
		m.reconciled[bars[0].Symbol] = append(m.reconciled[bars[0].Symbol], bars...)
	}
	m.mu.Unlock()
	if m.ReconcileFunc != nil {
		return m.ReconcileFunc(ctx, bars)
	}
	return entity.ReconcileResult{Inserted: len(bars)}, nil
}

func (m *mockStore) Reconciled(symbol string) []entity.PriceBar {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconciled[symbol]
}

type mockRateLimiter struct {
	waits atomic.Int32
}

func (m *mockRateLimiter) Wait(ctx context.Context) error {
	m.waits.Add(1)
	return ctx.Err()
}

type mockRecorder struct {
	reports []entity.RunReport
	err     error
}

func (m *mockRecorder) Record(ctx context.Context, report entity.RunReport) error {
	m.reports = append(m.reports, report)
	return m.err
}

type mockSnapshotSink struct {
	mu    sync.Mutex
	bars  map[string]int
	runID uuid.UUID
}

func (m *mockSnapshotSink) WriteSnapshot(ctx context.Context, runID uuid.UUID, symbol string, bars []entity.PriceBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bars == nil {
		m.bars = map[string]int{}
	}
	m.bars[symbol] = len(bars)
	m.runID = runID
	return nil
}

var testToday = time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return testToday }

func ohlcvTable(rows ...[]string) entity.RawTable {
	return entity.RawTable{
		Columns: flatCols("date", "open", "high", "low", "close", "volume"),
		Rows:    rows,
	}
}

func barRow(d string) []string {
	return []string{d, "100", "110", "90", "105", "1000"}
}

func newTestUsecase(symbols []string, source RawRowSource, store PriceBarStore, opts ...Option) *SyncUsecase {
	return NewSyncUsecase(SyncConfig{
		Symbols:      symbols,
		EpochStart:   date("2023-12-31"),
		FetchTimeout: time.Second,
		Now:          fixedNow,
	}, source, store, opts...)
}

func TestDeltaStart(t *testing.T) {
	t.Parallel()

	epoch := date("2015-01-01")
	assert.Equal(t, date("2015-01-02"), DeltaStart(time.Time{}, false, epoch))
	assert.Equal(t, date("2024-01-03"), DeltaStart(date("2024-01-02"), true, epoch))
	// 時刻成分は切り捨てる
	assert.Equal(t, date("2024-01-03"), DeltaStart(time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC), true, epoch))
	// 月末・年末をまたぐ
	assert.Equal(t, date("2024-01-01"), DeltaStart(date("2023-12-31"), true, epoch))
}

func TestNewSyncUsecase_Defaults(t *testing.T) {
	t.Parallel()

	u := NewSyncUsecase(SyncConfig{Symbols: []string{"AAPL"}}, &mockSource{}, &mockStore{})

	assert.Equal(t, DefaultEpochStart, u.cfg.EpochStart)
	assert.Equal(t, DefaultFetchTimeout, u.cfg.FetchTimeout)
	assert.Equal(t, 1, u.cfg.Concurrency)
	assert.NotNil(t, u.cfg.Now)
}

func TestSyncUsecase_Run_FetchesOnlyTheDelta(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			assert.Equal(t, date("2024-01-03"), window.From)
			assert.True(t, window.To.IsZero())
			return ohlcvTable(barRow("2024-01-03"), barRow("2024-01-04")), nil
		},
	}
	store := &mockStore{
		LastDatesFunc: func(ctx context.Context) (map[string]time.Time, error) {
			return map[string]time.Time{"AAPL": date("2024-01-02")}, nil
		},
	}
	u := newTestUsecase([]string{"AAPL"}, source, store)

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	o := report.Outcomes[0]
	assert.Equal(t, entity.StatusSuccess, o.Status)
	assert.Equal(t, "2024-01-03", o.Start)
	assert.Equal(t, 2, o.RowsFetched)
	assert.Equal(t, 2, o.Inserted)
	assert.Equal(t, []string{"AAPL"}, report.SucceededSymbols)
	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.Equal(t, testToday, report.StartedAt)
	assert.Len(t, store.Reconciled("AAPL"), 2)
}

func TestSyncUsecase_Run_NoWatermarkStartsAfterEpoch(t *testing.T) {
	t.Parallel()

	var from time.Time
	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			from = window.From
			return ohlcvTable(), nil
		},
	}
	u := newTestUsecase([]string{"NVDA"}, source, &mockStore{})

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, date("2024-01-01"), from)
	assert.Equal(t, []string{"NVDA"}, report.SkippedSymbols)
}

func TestSyncUsecase_Run_SkipCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		watermark     time.Time
		fetch         func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error)
		expectFetch   bool
		expectWritten bool
	}{
		{
			name:        "watermark is today",
			watermark:   date("2024-01-05"),
			expectFetch: false,
		},
		{
			name:      "provider returns no rows",
			watermark: date("2024-01-03"),
			fetch: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
				return ohlcvTable(), nil
			},
			expectFetch: true,
		},
		{
			name:      "every row is invalid",
			watermark: date("2024-01-03"),
			fetch: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
				return ohlcvTable([]string{"2024-01-04", "x", "x", "x", "x", "x"}), nil
			},
			expectFetch: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := &mockSource{FetchRawFunc: tt.fetch}
			store := &mockStore{
				LastDatesFunc: func(ctx context.Context) (map[string]time.Time, error) {
					return map[string]time.Time{"AAPL": tt.watermark}, nil
				},
			}
			u := newTestUsecase([]string{"AAPL"}, source, store)

			report, err := u.Run(context.Background())

			require.NoError(t, err)
			assert.Equal(t, []string{"AAPL"}, report.SkippedSymbols)
			assert.Empty(t, report.FailedSymbols)
			assert.Equal(t, tt.expectFetch, len(source.Calls()) == 1)
			assert.Empty(t, store.Reconciled("AAPL"))
		})
	}
}

func TestSyncUsecase_Run_PartialFailure(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			switch symbol {
			case "BAD":
				return entity.RawTable{}, errNetwork
			case "ODD":
				return entity.RawTable{Columns: flatCols("date", "close"), Rows: [][]string{{"2024-01-04", "1"}}}, nil
			default:
				return ohlcvTable(barRow("2024-01-04")), nil
			}
		},
	}
	recorder := &mockRecorder{}
	u := newTestUsecase([]string{"AAPL", "BAD", "ODD", "MSFT"}, source, &mockStore{}, WithRecorder(recorder))

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, report.SucceededSymbols)
	assert.Equal(t, []string{"BAD", "ODD"}, report.FailedSymbols)
	assert.True(t, report.Partial())

	bad, ok := report.Outcome("BAD")
	require.True(t, ok)
	assert.Contains(t, bad.Error, domain.ErrProviderFetch.Error())
	odd, _ := report.Outcome("ODD")
	assert.Contains(t, odd.Error, domain.ErrSchemaMismatch.Error())

	// 出力順は設定順
	symbols := make([]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		symbols = append(symbols, o.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "BAD", "ODD", "MSFT"}, symbols)

	require.Len(t, recorder.reports, 1)
	assert.Equal(t, report.RunID, recorder.reports[0].RunID)
}

func TestSyncUsecase_Run_ReconcileResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reconcile  func(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error)
		wantStatus entity.OutcomeStatus
		wantFailed int
	}{
		{
			name: "some rows fail",
			reconcile: func(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
				return entity.ReconcileResult{Inserted: 1, Failed: []entity.RowError{
					{Symbol: "AAPL", PriceDate: bars[1].PriceDate, Err: domain.ErrDuplicateKeyRace},
				}}, nil
			},
			wantStatus: entity.StatusSuccess,
			wantFailed: 1,
		},
		{
			name: "every row fails",
			reconcile: func(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
				res := entity.ReconcileResult{}
				for _, b := range bars {
					res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: domain.ErrStorageUnavailable})
				}
				return res, nil
			},
			wantStatus: entity.StatusFailed,
			wantFailed: 2,
		},
		{
			name: "store error",
			reconcile: func(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
				return entity.ReconcileResult{}, domain.ErrStorageUnavailable
			},
			wantStatus: entity.StatusFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := &mockSource{
				FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
					return ohlcvTable(barRow("2024-01-03"), barRow("2024-01-04")), nil
				},
			}
			u := newTestUsecase([]string{"AAPL"}, source, &mockStore{ReconcileFunc: tt.reconcile})

			report, err := u.Run(context.Background())

			require.NoError(t, err)
			o := report.Outcomes[0]
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantFailed, o.FailedRows)
		})
	}
}

func TestSyncUsecase_Run_WatermarkReadFailureAborts(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	store := &mockStore{
		LastDatesFunc: func(ctx context.Context) (map[string]time.Time, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	recorder := &mockRecorder{}
	u := newTestUsecase([]string{"AAPL", "MSFT"}, source, store, WithRecorder(recorder))

	_, err := u.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, source.Calls())
	assert.Empty(t, recorder.reports)
}

func TestSyncUsecase_Run_RejectsOverlappingRuns(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			close(started)
			<-release
			return ohlcvTable(), nil
		},
	}
	u := newTestUsecase([]string{"AAPL"}, source, &mockStore{})

	done := make(chan error, 1)
	go func() {
		_, err := u.Run(context.Background())
		done <- err
	}()
	<-started

	_, err := u.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	// 完了後は再実行できる
	source.FetchRawFunc = func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
		return ohlcvTable(), nil
	}
	_, err = u.Run(context.Background())
	assert.NoError(t, err)
}

func TestSyncUsecase_Run_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return ohlcvTable(barRow("2024-01-04")), nil
		},
	}
	symbols := []string{"A", "B", "C", "D", "E", "F"}
	u := NewSyncUsecase(SyncConfig{
		Symbols:     symbols,
		EpochStart:  date("2023-12-31"),
		Concurrency: 3,
		Now:         fixedNow,
	}, source, &mockStore{})

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, symbols, report.SucceededSymbols)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
	assert.GreaterOrEqual(t, maxInFlight.Load(), int32(1))
}

func TestSyncUsecase_Run_FetchTimeout(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			<-ctx.Done()
			return entity.RawTable{}, ctx.Err()
		},
	}
	u := NewSyncUsecase(SyncConfig{
		Symbols:      []string{"AAPL"},
		EpochStart:   date("2023-12-31"),
		FetchTimeout: 10 * time.Millisecond,
		Now:          fixedNow,
	}, source, &mockStore{})

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, report.FailedSymbols)
	assert.Contains(t, report.Outcomes[0].Error, "deadline exceeded")
}

func TestSyncUsecase_Run_CancelledContext(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	u := newTestUsecase([]string{"AAPL", "MSFT"}, source, &mockStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := u.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, report.FailedSymbols)
	assert.Empty(t, source.Calls())
}

func TestSyncUsecase_Run_OptionsAreUsed(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		FetchRawFunc: func(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
			return ohlcvTable(barRow("2024-01-03"), barRow("2024-01-04"), barRow("2024-01-04")), nil
		},
	}
	store := &mockStore{
		LastDatesFunc: func(ctx context.Context) (map[string]time.Time, error) {
			return map[string]time.Time{"MSFT": date("2024-01-05")}, nil
		},
	}
	limiter := &mockRateLimiter{}
	sink := &mockSnapshotSink{}
	recorder := &mockRecorder{err: errors.New("history table missing")}
	u := newTestUsecase([]string{"AAPL", "MSFT"}, source, store,
		WithRateLimiter(limiter), WithSnapshotSink(sink), WithRecorder(recorder))

	report, err := u.Run(context.Background())

	require.NoError(t, err)
	// スキップした銘柄はプロバイダを呼ばない
	assert.Equal(t, int32(1), limiter.waits.Load())
	assert.Equal(t, map[string]int{"AAPL": 2}, sink.bars)
	assert.Equal(t, report.RunID, sink.runID)
	// 記録の失敗は実行結果に影響しない
	assert.Equal(t, []string{"AAPL"}, report.SucceededSymbols)
	assert.Equal(t, []string{"MSFT"}, report.SkippedSymbols)
}
