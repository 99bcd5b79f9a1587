package usecase

import (
	"context"
	"time"

	"price_history/internal/feature/pricebars/domain/entity"
)

const (
	// DefaultLimit はバー取得時のデフォルト返却件数です。
	DefaultLimit = 200
	// MaxLimit はバーの最大返却件数です。
	MaxLimit = 5000
)

// BarQuery selects persisted bars of one symbol. Zero From/To leave that side open.
type BarQuery struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

// PriceBarReader はバーの読み取りレイヤーを抽象化します。
type PriceBarReader interface {
	// Find は新しい日付順にバーを返します。
	Find(ctx context.Context, q BarQuery) ([]entity.PriceBar, error)
	WatermarkStore
}

// BarsUsecase は保存済みバーとウォーターマークの参照を提供します。
type BarsUsecase struct {
	repo PriceBarReader
}

// NewBarsUsecase はBarsUsecaseの新しいインスタンスを生成します。
func NewBarsUsecase(repo PriceBarReader) *BarsUsecase {
	return &BarsUsecase{repo: repo}
}

// GetBars は指定された銘柄のバーを取得します。件数が範囲外の場合はデフォルト値を使用します。
func (bu *BarsUsecase) GetBars(ctx context.Context, q BarQuery) ([]entity.PriceBar, error) {
	if q.Limit <= 0 || q.Limit > MaxLimit {
		q.Limit = DefaultLimit
	}
	if !q.From.IsZero() {
		q.From = entity.DateOf(q.From)
	}
	if !q.To.IsZero() {
		q.To = entity.DateOf(q.To)
	}
	return bu.repo.Find(ctx, q)
}

// Watermarks は銘柄ごとの最新 price_date を返します。
func (bu *BarsUsecase) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	return bu.repo.LastDates(ctx)
}

// Watermark は1銘柄の最新 price_date を返します。データが無い場合 ok は false です。
func (bu *BarsUsecase) Watermark(ctx context.Context, symbol string) (time.Time, bool, error) {
	return bu.repo.LastDate(ctx, symbol)
}
