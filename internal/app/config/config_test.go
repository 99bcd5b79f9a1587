package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv は他の環境変数の影響を受けないよう主要なキーを空にします。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SYNC_CONFIG_FILE", "SYNC_SYMBOLS", "SYNC_EPOCH_START", "SYNC_CONCURRENCY", "SYNC_FETCH_TIMEOUT",
		"SYNC_RATE_LIMIT", "MARKET_PROVIDER", "DB_DRIVER", "STORE_ENGINE", "DATABASE_URL", "CACHE_TTL",
		"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSymbols, cfg.Sync.Symbols)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.EpochStart)
	assert.Equal(t, 1, cfg.Sync.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Sync.FetchTimeout)
	assert.Equal(t, 8, cfg.Sync.RateLimit)
	assert.Equal(t, ProviderTwelveData, cfg.Sync.Provider)
	assert.Equal(t, EngineGorm, cfg.StoreEngine)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_SYMBOLS", " aapl, MSFT,,aapl ")
	t.Setenv("SYNC_EPOCH_START", "2020-06-01")
	t.Setenv("SYNC_CONCURRENCY", "4")
	t.Setenv("SYNC_FETCH_TIMEOUT", "5s")
	t.Setenv("MARKET_PROVIDER", "Polygon")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Sync.Symbols)
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.EpochStart)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Sync.FetchTimeout)
	assert.Equal(t, ProviderPolygon, cfg.Sync.Provider)
}

func TestLoad_YAMLFileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols: [nvda, amzn]
epoch_start: "2018-01-01"
concurrency: 3
fetch_timeout: 10s
rate_limit: 0
provider: polygon
`), 0o600))
	t.Setenv("SYNC_CONFIG_FILE", path)
	t.Setenv("SYNC_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"NVDA", "AMZN"}, cfg.Sync.Symbols)
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Sync.EpochStart)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Sync.FetchTimeout)
	assert.Equal(t, 0, cfg.Sync.RateLimit)
	assert.Equal(t, ProviderPolygon, cfg.Sync.Provider)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{"bad epoch", map[string]string{"SYNC_EPOCH_START": "01/01/2015"}, "invalid epoch_start"},
		{"bad timeout", map[string]string{"SYNC_FETCH_TIMEOUT": "soon"}, "invalid fetch_timeout"},
		{"bad concurrency", map[string]string{"SYNC_CONCURRENCY": "x"}, "SYNC_CONCURRENCY"},
		{"zero concurrency", map[string]string{"SYNC_CONCURRENCY": "0"}, "concurrency must be >= 1"},
		{"unknown provider", map[string]string{"MARKET_PROVIDER": "yahoo"}, "unknown market provider"},
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}, "unknown db driver"},
		{"pgx without url", map[string]string{"STORE_ENGINE": "pgx"}, "requires DATABASE_URL"},
		{"unknown engine", map[string]string{"STORE_ENGINE": "ent"}, "unknown store engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()

			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errMsg), err.Error())
		})
	}
}

func TestValidate_EmptySymbols(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Sync:        Sync{EpochRaw: "2015-01-01", TimeoutRaw: "30s", Concurrency: 1, Provider: ProviderTwelveData},
		StoreEngine: EngineGorm,
	}
	cfg.DB.Driver = "sqlite"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol list is empty")
}

func TestSplitSymbols(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"^GSPC", "AAPL"}, SplitSymbols("^gspc, AAPL ,aapl,"))
	assert.Nil(t, SplitSymbols(" , "))
}
