package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

const (
	upsertBarSQL = `
		INSERT INTO price_history
			(symbol, price_date, open_price, high_price, low_price, close_price, volume, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, price_date) DO UPDATE SET
			open_price  = EXCLUDED.open_price,
			high_price  = EXCLUDED.high_price,
			low_price   = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume      = EXCLUDED.volume,
			ingested_at = EXCLUDED.ingested_at
		RETURNING (xmax = 0) AS inserted
	`

	lastDateSQL = `
		SELECT MAX(price_date)
		FROM price_history
		WHERE symbol = $1
	`

	lastDatesSQL = `
		SELECT symbol, MAX(price_date)
		FROM price_history
		GROUP BY symbol
	`

	findBarsSQL = `
		SELECT symbol, price_date, open_price, high_price, low_price, close_price, volume
		FROM price_history
		WHERE symbol = $1
		  AND ($2::date IS NULL OR price_date >= $2)
		  AND ($3::date IS NULL OR price_date <= $3)
		ORDER BY price_date DESC
		LIMIT $4
	`
)

// dbtx is the subset of *pgxpool.Pool used by the repository.
type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPriceBarRepository is a PostgreSQL store that classifies each upsert as
// insert or update in the same statement that performs it.
type PgxPriceBarRepository struct {
	db  dbtx
	now func() time.Time
}

var (
	_ usecase.PriceBarStore  = (*PgxPriceBarRepository)(nil)
	_ usecase.PriceBarReader = (*PgxPriceBarRepository)(nil)
)

// NewPgxPriceBarRepository creates a repository over a pgx pool (or any compatible querier).
func NewPgxPriceBarRepository(db dbtx) *PgxPriceBarRepository {
	return &PgxPriceBarRepository{db: db, now: time.Now}
}

// LastDate returns MAX(price_date) for symbol.
func (r *PgxPriceBarRepository) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var last *time.Time
	if err := r.db.QueryRow(ctx, lastDateSQL, symbol).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last date of %s: %v", domain.ErrStorageUnavailable, symbol, err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return entity.DateOf(*last), true, nil
}

// LastDates returns MAX(price_date) grouped by symbol.
func (r *PgxPriceBarRepository) LastDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.Query(ctx, lastDatesSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: last dates: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			symbol string
			last   time.Time
		)
		if err := rows.Scan(&symbol, &last); err != nil {
			return nil, fmt.Errorf("%w: scan last date: %v", domain.ErrStorageUnavailable, err)
		}
		out[symbol] = entity.DateOf(last)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: last dates: %v", domain.ErrStorageUnavailable, err)
	}
	return out, nil
}

// Reconcile upserts bars one statement per row. Each row commits on its own,
// so a failing row is reported and the rest of the batch is still written.
func (r *PgxPriceBarRepository) Reconcile(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
	var res entity.ReconcileResult
	now := r.now().UTC()
	for _, b := range bars {
		if err := validateForWrite(b); err != nil {
			res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: err})
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: err})
			continue
		}

		var inserted bool
		err := r.db.QueryRow(ctx, upsertBarSQL,
			b.Symbol, entity.DateOf(b.PriceDate),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, now,
		).Scan(&inserted)
		if err != nil {
			res.Failed = append(res.Failed, entity.RowError{Symbol: b.Symbol, PriceDate: b.PriceDate, Err: translatePgError(err)})
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// Find returns bars of one symbol, newest first. A NULL bound or limit leaves that side open.
func (r *PgxPriceBarRepository) Find(ctx context.Context, q usecase.BarQuery) ([]entity.PriceBar, error) {
	var from, to *time.Time
	if !q.From.IsZero() {
		d := entity.DateOf(q.From)
		from = &d
	}
	if !q.To.IsZero() {
		d := entity.DateOf(q.To)
		to = &d
	}
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	rows, err := r.db.Query(ctx, findBarsSQL, q.Symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: find bars of %s: %v", domain.ErrStorageUnavailable, q.Symbol, err)
	}
	defer rows.Close()

	out := []entity.PriceBar{}
	for rows.Next() {
		var b entity.PriceBar
		if err := rows.Scan(&b.Symbol, &b.PriceDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("%w: scan bar: %v", domain.ErrStorageUnavailable, err)
		}
		b.PriceDate = entity.DateOf(b.PriceDate)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find bars of %s: %v", domain.ErrStorageUnavailable, q.Symbol, err)
	}
	return out, nil
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKeyRace, pgErr.Message)
	}
	return fmt.Errorf("upsert price bar: %w", err)
}
