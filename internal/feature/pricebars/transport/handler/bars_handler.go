// Package handler はpricebarsフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/transport/http/dto"
	"price_history/internal/feature/pricebars/usecase"
)

// BarsUsecase は保存済みバー参照のユースケースインターフェースです。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type BarsUsecase interface {
	GetBars(ctx context.Context, q usecase.BarQuery) ([]entity.PriceBar, error)
	Watermarks(ctx context.Context) (map[string]time.Time, error)
}

// BarsHandler はバーとウォーターマークのHTTPリクエストを処理します。
type BarsHandler struct {
	uc BarsUsecase
}

// NewBarsHandler は指定されたusecaseでBarsHandlerの新しいインスタンスを生成します。
func NewBarsHandler(uc BarsUsecase) *BarsHandler {
	return &BarsHandler{uc: uc}
}

// GetBars は銘柄の日足を新しい順に返します。
//
// エンドポイント例:
// GET /bars/:symbol?from=2024-01-01&to=2024-03-31&limit=100
func (h *BarsHandler) GetBars(c *gin.Context) {
	q := usecase.BarQuery{Symbol: c.Param("symbol")}

	var err error
	if q.From, err = parseDateQuery(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if q.To, err = parseDateQuery(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "from must not be after to"})
		return
	}
	// 不正な値は0としてusecaseに渡し、デフォルト値に置き換えさせる
	q.Limit, _ = strconv.Atoi(c.Query("limit"))

	bars, err := h.uc.GetBars(c.Request.Context(), q)
	if err != nil {
		c.JSON(StatusOf(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	out := dto.BarsResponse{Symbol: q.Symbol, Bars: make([]dto.BarResponse, 0, len(bars))}
	for _, b := range bars {
		out.Bars = append(out.Bars, dto.BarResponse{
			Date:   b.PriceDate.Format(entity.DateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Watermarks は銘柄ごとの最新 price_date を銘柄順に返します。
//
// GET /watermarks
func (h *BarsHandler) Watermarks(c *gin.Context) {
	marks, err := h.uc.Watermarks(c.Request.Context())
	if err != nil {
		c.JSON(StatusOf(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]dto.WatermarkResponse, 0, len(marks))
	for symbol, last := range marks {
		out = append(out, dto.WatermarkResponse{Symbol: symbol, LastDate: last.Format(entity.DateLayout)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	c.JSON(http.StatusOK, out)
}

func parseDateQuery(c *gin.Context, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(entity.DateLayout, s)
	if err != nil {
		return time.Time{}, errors.New(key + " must be YYYY-MM-DD")
	}
	return t, nil
}

// StatusOf maps domain errors to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
