package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/externalapi/twelvedata/dto"
)

const (
	// maxOutputSize はtime_seriesが1リクエストで返す最大件数です。
	maxOutputSize = 5000
	noDataMessage = "No data is available"
)

// rawColumns is the header of tables built from time_series values.
var rawColumns = []entity.Column{{"datetime"}, {"open"}, {"high"}, {"low"}, {"close"}, {"volume"}}

// TwelveDataMarket はTwelve Data外部APIから日足データを取得するRawRowSource実装です。
type TwelveDataMarket struct {
	cfg        Config
	client     *http.Client
	outputSize int
}

// TwelveDataMarketがRawRowSourceを実装していることをコンパイル時に検証します。
var _ usecase.RawRowSource = (*TwelveDataMarket)(nil)

// NewTwelveDataMarket は指定された設定とHTTPクライアントでTwelveDataMarketの新しいインスタンスを生成します。
func NewTwelveDataMarket(cfg Config, client *http.Client) *TwelveDataMarket {
	return &TwelveDataMarket{cfg: cfg, client: client, outputSize: maxOutputSize}
}

// FetchRaw はwindowの日足を古い順に取得します。1ページが上限件数に達した場合は
// 最終日の翌日から続きを取得します。データが無い期間は空テーブルを返します。
func (t *TwelveDataMarket) FetchRaw(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
	table := entity.RawTable{Columns: rawColumns}
	from := window.From
	for {
		body, err := t.timeSeries(ctx, symbol, from, window.To)
		if err != nil {
			return entity.RawTable{}, err
		}
		for _, v := range body.Values {
			vol := v.Volume
			// 指数は出来高を返さない
			if vol == "" {
				vol = "0"
			}
			table.Rows = append(table.Rows, []string{v.Datetime, v.Open, v.High, v.Low, v.Close, vol})
		}
		if len(body.Values) < t.outputSize {
			return table, nil
		}

		last, err := usecase.ParseDate(body.Values[len(body.Values)-1].Datetime)
		if err != nil {
			return table, nil
		}
		next := last.AddDate(0, 0, 1)
		if !next.After(from) || (!window.To.IsZero() && next.After(window.To)) {
			return table, nil
		}
		from = next
	}
}

func (t *TwelveDataMarket) timeSeries(ctx context.Context, symbol string, from, to time.Time) (dto.TimeSeriesResponse, error) {
	var body dto.TimeSeriesResponse

	q := url.Values{}
	q.Set("symbol", t.providerSymbol(symbol))
	q.Set("interval", "1day")
	q.Set("order", "ASC")
	q.Set("outputsize", strconv.Itoa(t.outputSize))
	if !from.IsZero() {
		q.Set("start_date", from.Format(entity.DateLayout))
	}
	if !to.IsZero() {
		q.Set("end_date", to.Format(entity.DateLayout))
	}
	q.Set("apikey", t.cfg.TwelveDataAPIKey)

	u := fmt.Sprintf("%s/time_series?%s", t.cfg.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return body, fmt.Errorf("%w: %v", domain.ErrProviderFetch, err)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return body, fmt.Errorf("%w: twelvedata %s: %v", domain.ErrProviderFetch, symbol, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return body, fmt.Errorf("%w: twelvedata http %d", domain.ErrProviderFetch, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("%w: decode twelvedata response: %v", domain.ErrProviderFetch, err)
	}
	if body.Status == "error" {
		// 指定期間にデータが無い場合はエラーではなく空の結果として扱う
		if strings.Contains(body.Message, noDataMessage) {
			return dto.TimeSeriesResponse{Status: "ok"}, nil
		}
		return body, fmt.Errorf("%w: twelvedata: %s", domain.ErrProviderFetch, body.Message)
	}
	return body, nil
}

func (t *TwelveDataMarket) providerSymbol(symbol string) string {
	if s, ok := t.cfg.SymbolMap[symbol]; ok {
		return s
	}
	return symbol
}
