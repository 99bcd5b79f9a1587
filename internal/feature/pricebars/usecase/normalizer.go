package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
)

// canonical field names of a normalized row
const (
	fieldDate   = "price_date"
	fieldOpen   = "open_price"
	fieldHigh   = "high_price"
	fieldLow    = "low_price"
	fieldClose  = "close_price"
	fieldVolume = "volume"
)

// requiredFields must all be present in a raw table.
var requiredFields = []string{fieldDate, fieldOpen, fieldHigh, fieldLow, fieldClose, fieldVolume}

// fieldAliases maps lower-cased provider column names to canonical fields.
var fieldAliases = map[string]string{
	"date":        fieldDate,
	"datetime":    fieldDate,
	"timestamp":   fieldDate,
	"time":        fieldDate,
	"t":           fieldDate,
	"price_date":  fieldDate,
	"open":        fieldOpen,
	"o":           fieldOpen,
	"open_price":  fieldOpen,
	"high":        fieldHigh,
	"h":           fieldHigh,
	"high_price":  fieldHigh,
	"low":         fieldLow,
	"l":           fieldLow,
	"low_price":   fieldLow,
	"close":       fieldClose,
	"c":           fieldClose,
	"close_price": fieldClose,
	"volume":      fieldVolume,
	"v":           fieldVolume,
	"vol":         fieldVolume,
}

// dateLayouts are tried in order when parsing a date cell.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"02-01-2006",
}

// compactDateLayout is the 8-digit form (YYYYMMDD) some providers emit.
const compactDateLayout = "20060102"

// NormalizeResult is the output of Normalize.
type NormalizeResult struct {
	Bars           []entity.PriceBar
	SkippedInvalid int
	Invalid        []error
}

// Normalize maps a provider table onto canonical price bars for symbol.
// It fails with ErrSchemaMismatch only when a required column is missing;
// rows with bad values are dropped and counted.
func Normalize(raw entity.RawTable, symbol string) (NormalizeResult, error) {
	idx, err := resolveColumns(raw.Columns, symbol)
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("%s: %w", symbol, err)
	}

	var res NormalizeResult
	byDate := make(map[time.Time]entity.PriceBar, len(raw.Rows))
	for i, row := range raw.Rows {
		bar, err := parseRow(row, idx)
		if err != nil {
			res.SkippedInvalid++
			res.Invalid = append(res.Invalid, fmt.Errorf("%s row %d: %w", symbol, i, err))
			continue
		}
		bar.Symbol = symbol
		if !consistent(bar) {
			slog.Warn("inconsistent OHLC bar persisted as delivered",
				"symbol", symbol, "date", bar.PriceDate.Format(entity.DateLayout),
				"open", bar.Open.String(), "high", bar.High.String(),
				"low", bar.Low.String(), "close", bar.Close.String())
		}
		// 同一日付が重複した場合は後勝ち
		byDate[bar.PriceDate] = bar
	}

	res.Bars = make([]entity.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		res.Bars = append(res.Bars, b)
	}
	sort.Slice(res.Bars, func(i, j int) bool {
		return res.Bars[i].PriceDate.Before(res.Bars[j].PriceDate)
	})
	return res, nil
}

// resolveColumns flattens the header and returns the position of every canonical field.
func resolveColumns(cols []entity.Column, symbol string) (map[string]int, error) {
	idx := make(map[string]int, len(requiredFields))
	for i, col := range cols {
		name := flatten(col, symbol)
		if field, ok := fieldAliases[name]; ok {
			if _, dup := idx[field]; !dup {
				idx[field] = i
			}
		}
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := idx[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return idx, nil
}

// flatten reduces a multi-level column to one lower-cased name: the first level
// that is a known alias, otherwise the first remaining level. In a multi-level
// column the level naming the symbol itself is dropped, and below the top level
// only full-word aliases count, so tickers such as "V", "T" or "C" are never
// taken for a field.
func flatten(col entity.Column, symbol string) string {
	levels := make([]string, 0, len(col))
	for _, level := range col {
		name := strings.ToLower(strings.TrimSpace(level))
		if len(col) > 1 && symbol != "" && strings.EqualFold(name, strings.TrimSpace(symbol)) {
			continue
		}
		levels = append(levels, name)
	}
	if len(levels) == 0 {
		return ""
	}
	for i, name := range levels {
		if i > 0 && len(name) < 2 {
			continue
		}
		if _, ok := fieldAliases[name]; ok {
			return name
		}
	}
	return levels[0]
}

func parseRow(row []string, idx map[string]int) (entity.PriceBar, error) {
	cell := func(field string) string {
		i := idx[field]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := ParseDate(cell(fieldDate))
	if err != nil {
		return entity.PriceBar{}, err
	}
	open, err := parsePrice("open", cell(fieldOpen))
	if err != nil {
		return entity.PriceBar{}, err
	}
	high, err := parsePrice("high", cell(fieldHigh))
	if err != nil {
		return entity.PriceBar{}, err
	}
	low, err := parsePrice("low", cell(fieldLow))
	if err != nil {
		return entity.PriceBar{}, err
	}
	cls, err := parsePrice("close", cell(fieldClose))
	if err != nil {
		return entity.PriceBar{}, err
	}
	vol, err := parseVolume(cell(fieldVolume))
	if err != nil {
		return entity.PriceBar{}, err
	}

	return entity.PriceBar{
		PriceDate: date,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

// ParseDate parses a provider date cell and discards time of day and zone.
// An 8-digit value that is a valid YYYYMMDD date is read as such; other
// integer values are unix epochs: seconds below 1e11, milliseconds otherwise.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", domain.ErrInvalidRow)
	}
	// 20240110 のような8桁はエポック秒ではなく日付として扱う
	if len(s) == len(compactDateLayout) {
		if t, err := time.Parse(compactDateLayout, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}, fmt.Errorf("%w: negative epoch %q", domain.ErrInvalidRow, s)
		}
		if n < 1e11 {
			return entity.DateOf(time.Unix(n, 0).UTC()), nil
		}
		return entity.DateOf(time.UnixMilli(n).UTC()), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return entity.DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: parse date %q", domain.ErrInvalidRow, s)
}

func parsePrice(name, s string) (decimal.Decimal, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: parse %s %q", domain.ErrInvalidRow, name, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		d = decimal.NewFromFloat(f)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative %s %q", domain.ErrInvalidRow, name, s)
	}
	return d, nil
}

// maxVolume is 2^63. float64(math.MaxInt64) rounds up to it, so the bound is exclusive.
const maxVolume = float64(1 << 63)

func parseVolume(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: negative volume %q", domain.ErrInvalidRow, s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= maxVolume {
		return 0, fmt.Errorf("%w: parse volume %q", domain.ErrInvalidRow, s)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: negative volume %q", domain.ErrInvalidRow, s)
	}
	return int64(f), nil
}

// consistent reports whether low <= open,close <= high.
func consistent(b entity.PriceBar) bool {
	return b.Low.LessThanOrEqual(b.Open) && b.Low.LessThanOrEqual(b.Close) &&
		b.Open.LessThanOrEqual(b.High) && b.Close.LessThanOrEqual(b.High)
}
