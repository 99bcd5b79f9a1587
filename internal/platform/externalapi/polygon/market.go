package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/externalapi/polygon/dto"
)

const (
	pageLimit = 50000
	maxPages  = 100
)

// rawColumns uses Polygon's single-letter keys; the normalizer maps them.
var rawColumns = []entity.Column{{"t"}, {"o"}, {"h"}, {"l"}, {"c"}, {"v"}}

// PolygonMarket fetches daily aggregates from Polygon.io.
type PolygonMarket struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

var _ usecase.RawRowSource = (*PolygonMarket)(nil)

// NewPolygonMarket creates a PolygonMarket.
func NewPolygonMarket(cfg Config, client *http.Client) *PolygonMarket {
	return &PolygonMarket{cfg: cfg, client: client, now: time.Now}
}

// FetchRaw returns the daily aggregates of window in ascending order, following next_url pages.
func (p *PolygonMarket) FetchRaw(ctx context.Context, symbol string, window entity.DateRange) (entity.RawTable, error) {
	from := window.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := window.To
	if to.IsZero() {
		to = entity.DateOf(p.now().UTC())
	}
	table := entity.RawTable{Columns: rawColumns}
	if from.After(to) {
		return table, nil
	}

	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", fmt.Sprint(pageLimit))
	next := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?%s",
		p.cfg.BaseURL, url.PathEscape(p.providerSymbol(symbol)),
		from.Format(entity.DateLayout), to.Format(entity.DateLayout), q.Encode())

	for page := 0; next != "" && page < maxPages; page++ {
		body, err := p.get(ctx, symbol, next)
		if err != nil {
			return entity.RawTable{}, err
		}
		for _, b := range body.Results {
			table.Rows = append(table.Rows, []string{
				b.T.String(), b.O.String(), b.H.String(), b.L.String(), b.C.String(), b.V.String(),
			})
		}
		next = body.NextURL
	}
	return table, nil
}

func (p *PolygonMarket) get(ctx context.Context, symbol, rawURL string) (dto.AggregatesResponse, error) {
	var body dto.AggregatesResponse

	u, err := url.Parse(rawURL)
	if err != nil {
		return body, fmt.Errorf("%w: polygon url: %v", domain.ErrProviderFetch, err)
	}
	q := u.Query()
	q.Set("apiKey", p.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return body, fmt.Errorf("%w: %v", domain.ErrProviderFetch, err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return body, fmt.Errorf("%w: polygon %s: %v", domain.ErrProviderFetch, symbol, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return body, fmt.Errorf("%w: polygon http %d", domain.ErrProviderFetch, res.StatusCode)
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return body, fmt.Errorf("%w: decode polygon response: %v", domain.ErrProviderFetch, err)
	}
	switch body.Status {
	case "OK", "DELAYED":
		return body, nil
	default:
		msg := body.Error
		if msg == "" {
			msg = body.Message
		}
		return body, fmt.Errorf("%w: polygon status %s: %s", domain.ErrProviderFetch, body.Status, msg)
	}
}

func (p *PolygonMarket) providerSymbol(symbol string) string {
	if s, ok := p.cfg.SymbolMap[symbol]; ok {
		return s
	}
	return symbol
}
