package adapters

import (
	"fmt"
	"time"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
)

// storedTimeLayouts covers the text forms drivers return for date aggregates
// (SQLite hands MAX(price_date) back as text).
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// scanDate is a sql.Scanner accepting time.Time, string or []byte date values.
type scanDate struct {
	Time  time.Time
	Valid bool
}

func (d *scanDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Time, d.Valid = time.Time{}, false
		return nil
	case time.Time:
		d.Time, d.Valid = entity.DateOf(v), true
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (d *scanDate) parse(s string) error {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time, d.Valid = entity.DateOf(t), true
			return nil
		}
	}
	return fmt.Errorf("scan date: cannot parse %q", s)
}

// groupBySymbol splits bars per symbol keeping first-seen order.
func groupBySymbol(bars []entity.PriceBar) [][]entity.PriceBar {
	pos := make(map[string]int)
	var groups [][]entity.PriceBar
	for _, b := range bars {
		i, ok := pos[b.Symbol]
		if !ok {
			i = len(groups)
			pos[b.Symbol] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], b)
	}
	return groups
}

// dateSpan returns the earliest and latest calendar dates of bars.
func dateSpan(bars []entity.PriceBar) (time.Time, time.Time) {
	from := entity.DateOf(bars[0].PriceDate)
	to := from
	for _, b := range bars[1:] {
		d := entity.DateOf(b.PriceDate)
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	return from, to
}

// validateForWrite rejects rows that can never satisfy the identity key.
func validateForWrite(b entity.PriceBar) error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", domain.ErrInvalidRow)
	}
	if b.PriceDate.IsZero() {
		return fmt.Errorf("%w: zero price_date for %s", domain.ErrInvalidRow, b.Symbol)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume for %s", domain.ErrInvalidRow, b.Symbol)
	}
	return nil
}
