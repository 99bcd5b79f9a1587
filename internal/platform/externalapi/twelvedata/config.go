// Package twelvedata provides a client for the Twelve Data stock market API.
package twelvedata

import (
	"os"
	"time"
)

// DefaultBaseURL is used when TWELVE_DATA_BASE_URL is not set.
const DefaultBaseURL = "https://api.twelvedata.com"

// Config holds configuration for the Twelve Data API client.
type Config struct {
	TwelveDataAPIKey string            // API key for authentication
	BaseURL          string            // Base URL for the API (e.g., "https://api.twelvedata.com")
	Timeout          time.Duration     // HTTP request timeout
	SymbolMap        map[string]string // local symbol -> Twelve Data symbol (indices use their own tickers)
}

// defaultSymbolMap translates Yahoo-style index symbols.
var defaultSymbolMap = map[string]string{
	"^GSPC": "SPX",
	"^IXIC": "IXIC",
	"^DJI":  "DJI",
}

// LoadConfig loads Twelve Data configuration from environment variables.
func LoadConfig() Config {
	base := os.Getenv("TWELVE_DATA_BASE_URL")
	if base == "" {
		base = DefaultBaseURL
	}
	return Config{
		TwelveDataAPIKey: os.Getenv("TWELVE_DATA_API_KEY"),
		BaseURL:          base,
		Timeout:          10 * time.Second,
		SymbolMap:        defaultSymbolMap,
	}
}
