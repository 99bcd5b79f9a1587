// Package adapters provides the storage implementations of the pricebars feature.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
)

// TableName is the table holding daily bars.
const TableName = "price_history"

// upsertColumns are overwritten when (symbol, price_date) already exists.
var upsertColumns = []string{"open_price", "high_price", "low_price", "close_price", "volume", "ingested_at"}

type priceBarGorm struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ usecase.PriceBarStore  = (*priceBarGorm)(nil)
	_ usecase.PriceBarReader = (*priceBarGorm)(nil)
)

// NewPriceBarRepository returns a gorm-backed store usable with MySQL, PostgreSQL and SQLite.
func NewPriceBarRepository(db *gorm.DB) *priceBarGorm {
	return &priceBarGorm{db: db, now: time.Now}
}

// PriceBarModel is the persisted row of a PriceBar.
type PriceBarModel struct {
	ID         uint            `gorm:"primaryKey"`
	Symbol     string          `gorm:"size:32;not null;uniqueIndex:price_history_symbol_date,priority:1"`
	PriceDate  time.Time       `gorm:"type:date;not null;uniqueIndex:price_history_symbol_date,priority:2"`
	OpenPrice  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	HighPrice  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	LowPrice   decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	ClosePrice decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Volume     int64           `gorm:"not null;default:0"`
	IngestedAt time.Time       `gorm:"not null"`
}

func (PriceBarModel) TableName() string {
	return TableName
}

func toModel(e entity.PriceBar, ingestedAt time.Time) PriceBarModel {
	return PriceBarModel{
		Symbol:     e.Symbol,
		PriceDate:  entity.DateOf(e.PriceDate),
		OpenPrice:  e.Open,
		HighPrice:  e.High,
		LowPrice:   e.Low,
		ClosePrice: e.Close,
		Volume:     e.Volume,
		IngestedAt: ingestedAt,
	}
}

func toEntity(m PriceBarModel) entity.PriceBar {
	return entity.PriceBar{
		Symbol:     m.Symbol,
		PriceDate:  entity.DateOf(m.PriceDate),
		Open:       m.OpenPrice,
		High:       m.HighPrice,
		Low:        m.LowPrice,
		Close:      m.ClosePrice,
		Volume:     m.Volume,
		IngestedAt: m.IngestedAt,
	}
}

// LastDate returns MAX(price_date) for symbol.
func (r *priceBarGorm) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var rows []PriceBarModel
	if err := r.db.WithContext(ctx).
		Select("price_date").
		Where("symbol = ?", symbol).
		Order("price_date DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last date of %s: %v", domain.ErrStorageUnavailable, symbol, err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return entity.DateOf(rows[0].PriceDate), true, nil
}

// LastDates returns MAX(price_date) grouped by symbol in a single statement.
func (r *priceBarGorm) LastDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.WithContext(ctx).
		Model(&PriceBarModel{}).
		Select("symbol, MAX(price_date) AS last_date").
		Group("symbol").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: last dates: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			symbol string
			last   scanDate
		)
		if err := rows.Scan(&symbol, &last); err != nil {
			return nil, fmt.Errorf("%w: scan last date: %v", domain.ErrStorageUnavailable, err)
		}
		if last.Valid {
			out[symbol] = last.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: last dates: %v", domain.ErrStorageUnavailable, err)
	}
	return out, nil
}

// Reconcile upserts every bar with its own conditional write so one failing row
// does not affect the others. Inserted/updated counts come from the keys present
// before the batch was written.
func (r *priceBarGorm) Reconcile(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
	var res entity.ReconcileResult
	if len(bars) == 0 {
		return res, nil
	}

	for _, group := range groupBySymbol(bars) {
		existing, err := r.existingDates(ctx, group)
		if err != nil {
			return res, err
		}
		now := r.now().UTC()
		for _, b := range group {
			if err := validateForWrite(b); err != nil {
				res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: err})
				continue
			}
			if err := ctx.Err(); err != nil {
				res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: err})
				continue
			}
			m := toModel(b, now)
			err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}, {Name: "price_date"}},
				DoUpdates: clause.AssignmentColumns(upsertColumns),
			}).Create(&m).Error
			if err != nil {
				res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: translateWriteError(err)})
				continue
			}
			if _, ok := existing[m.PriceDate.Format(entity.DateLayout)]; ok {
				res.Updated++
			} else {
				res.Inserted++
				existing[m.PriceDate.Format(entity.DateLayout)] = struct{}{}
			}
		}
	}
	return res, nil
}

// existingDates loads the dates already stored for the symbol of group within its date span.
func (r *priceBarGorm) existingDates(ctx context.Context, group []entity.PriceBar) (map[string]struct{}, error) {
	symbol := group[0].Symbol
	from, to := dateSpan(group)
	var rows []PriceBarModel
	if err := r.db.WithContext(ctx).
		Select("price_date").
		Where("symbol = ? AND price_date >= ? AND price_date <= ?", symbol, from, to).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: existing dates of %s: %v", domain.ErrStorageUnavailable, symbol, err)
	}
	out := make(map[string]struct{}, len(rows))
	for _, m := range rows {
		out[entity.DateOf(m.PriceDate).Format(entity.DateLayout)] = struct{}{}
	}
	return out, nil
}

// Find returns bars of one symbol, newest first.
func (r *priceBarGorm) Find(ctx context.Context, q usecase.BarQuery) ([]entity.PriceBar, error) {
	var rows []PriceBarModel
	tx := r.db.WithContext(ctx).
		Where("symbol = ?", q.Symbol).
		Order("price_date DESC")
	if !q.From.IsZero() {
		tx = tx.Where("price_date >= ?", entity.DateOf(q.From))
	}
	if !q.To.IsZero() {
		tx = tx.Where("price_date <= ?", entity.DateOf(q.To))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: find bars of %s: %v", domain.ErrStorageUnavailable, q.Symbol, err)
	}
	out := make([]entity.PriceBar, 0, len(rows))
	for _, m := range rows {
		out = append(out, toEntity(m))
	}
	return out, nil
}

func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateKeyRace, err)
	}
	return err
}
