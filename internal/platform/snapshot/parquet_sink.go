// Package snapshot exports normalized bars of each sync run as parquet files.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
)

// Row is one parquet record. Prices keep their decimal text so nothing is rounded.
type Row struct {
	Symbol    string `parquet:"symbol"`
	PriceDate string `parquet:"price_date"`
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    int64  `parquet:"volume"`
}

// ParquetSink writes <dir>/<run-id>/<symbol>.parquet.
type ParquetSink struct {
	dir string
}

var _ usecase.SnapshotSink = (*ParquetSink)(nil)

// NewParquetSink creates a sink rooted at dir.
func NewParquetSink(dir string) *ParquetSink {
	return &ParquetSink{dir: dir}
}

// WriteSnapshot writes bars of symbol for runID.
func (s *ParquetSink) WriteSnapshot(ctx context.Context, runID uuid.UUID, symbol string, bars []entity.PriceBar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runDir := filepath.Join(s.dir, runID.String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	rows := make([]Row, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, Row{
			Symbol:    b.Symbol,
			PriceDate: b.PriceDate.Format(entity.DateLayout),
			Open:      b.Open.String(),
			High:      b.High.String(),
			Low:       b.Low.String(),
			Close:     b.Close.String(),
			Volume:    b.Volume,
		})
	}

	path := s.Path(runID, symbol)
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// Path returns the file written for symbol in runID.
func (s *ParquetSink) Path(runID uuid.UUID, symbol string) string {
	return filepath.Join(s.dir, runID.String(), fileName(symbol)+".parquet")
}

// fileName keeps index symbols such as "^GSPC" usable as file names.
func fileName(symbol string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "^", "IDX_").Replace(symbol)
}
