// Package entity defines the domain models for the pricebars feature.
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one daily OHLCV observation for one symbol.
// (Symbol, PriceDate) identifies a bar; IngestedAt is informational only.
type PriceBar struct {
	Symbol     string          // Ticker symbol (e.g., "AAPL", "^GSPC")
	PriceDate  time.Time       // Calendar date at UTC midnight
	Open       decimal.Decimal // Opening price
	High       decimal.Decimal // Highest price of the day
	Low        decimal.Decimal // Lowest price of the day
	Close      decimal.Decimal // Closing price
	Volume     int64           // Traded volume, 0 allowed
	IngestedAt time.Time       // Set by the store at write time
}

// Key returns the identity key of the bar as "SYMBOL|YYYY-MM-DD".
func (b PriceBar) Key() string {
	return b.Symbol + "|" + b.PriceDate.Format(DateLayout)
}

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date (in t's own location) and returns it at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange is a fetch window. A zero From requests the full history and
// a zero To means "up to now".
type DateRange struct {
	From time.Time
	To   time.Time
}

// Column is one raw column name. A flat header has a single level ("open");
// a multi-level header carries one entry per level (("Open", "AAPL")).
type Column []string

// RawTable is a provider result before normalization. Cells are kept as the
// provider delivered them.
type RawTable struct {
	Columns []Column
	Rows    [][]string
}

// Len returns the number of raw rows.
func (t RawTable) Len() int {
	return len(t.Rows)
}
