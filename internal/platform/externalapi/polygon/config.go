// Package polygon provides a client for the Polygon.io aggregates API.
package polygon

import (
	"os"
	"time"
)

// DefaultBaseURL is used when POLYGON_BASE_URL is not set.
const DefaultBaseURL = "https://api.polygon.io"

// Config holds configuration for the Polygon client.
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	SymbolMap map[string]string // local symbol -> Polygon ticker
}

var defaultSymbolMap = map[string]string{
	"^GSPC": "I:SPX",
	"^IXIC": "I:COMP",
	"^DJI":  "I:DJI",
}

// LoadConfig loads Polygon configuration from environment variables.
func LoadConfig() Config {
	base := os.Getenv("POLYGON_BASE_URL")
	if base == "" {
		base = DefaultBaseURL
	}
	return Config{
		APIKey:    os.Getenv("POLYGON_API_KEY"),
		BaseURL:   base,
		Timeout:   10 * time.Second,
		SymbolMap: defaultSymbolMap,
	}
}
