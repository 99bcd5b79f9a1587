// Package di provides dependency injection factories for creating application components.
package di

import (
	"fmt"
	"net/http"
	"time"

	"price_history/internal/app/config"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/externalapi/polygon"
	"price_history/internal/platform/externalapi/twelvedata"
	infrahttp "price_history/internal/platform/http"
)

// NewMarket creates the market-data source selected by cfg.Sync.Provider.
func NewMarket(cfg *config.Config) (usecase.RawRowSource, error) {
	switch cfg.Sync.Provider {
	case config.ProviderTwelveData:
		return twelvedata.NewTwelveDataMarket(cfg.TwelveData, providerClient(cfg, cfg.TwelveData.Timeout)), nil
	case config.ProviderPolygon:
		return polygon.NewPolygonMarket(cfg.Polygon, providerClient(cfg, cfg.Polygon.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown market provider %q", cfg.Sync.Provider)
	}
}

// providerClient builds the provider HTTP client. A request never outlives the
// per-symbol fetch timeout, and idle connections match the sync concurrency.
func providerClient(cfg *config.Config, timeout time.Duration) *http.Client {
	if cfg.Sync.FetchTimeout > 0 && (timeout <= 0 || timeout > cfg.Sync.FetchTimeout) {
		timeout = cfg.Sync.FetchTimeout
	}
	return infrahttp.NewHTTPClient(infrahttp.ClientConfig{
		Timeout:             timeout,
		MaxIdleConnsPerHost: cfg.Sync.Concurrency,
	})
}
