// Package config composes the process configuration from the environment,
// an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/db"
	"price_history/internal/platform/externalapi/polygon"
	"price_history/internal/platform/externalapi/twelvedata"
	"price_history/internal/platform/logger"
	"price_history/internal/platform/redis"
)

const (
	ProviderTwelveData = "twelvedata"
	ProviderPolygon    = "polygon"

	EngineGorm = "gorm"
	EnginePgx  = "pgx"
)

// DefaultSymbols is the symbol set synced when none is configured.
var DefaultSymbols = []string{"^GSPC", "^IXIC", "AAPL", "MSFT", "NVDA", "AMZN"}

// Sync holds the orchestrator settings.
type Sync struct {
	Symbols      []string      `yaml:"symbols"`
	EpochRaw     string        `yaml:"epoch_start"`
	EpochStart   time.Time     `yaml:"-"`
	Concurrency  int           `yaml:"concurrency"`
	TimeoutRaw   string        `yaml:"fetch_timeout"`
	FetchTimeout time.Duration `yaml:"-"`
	RateLimit    int           `yaml:"rate_limit"` // provider calls per minute, 0 = unlimited
	Provider     string        `yaml:"provider"`
}

// Config is the full process configuration.
type Config struct {
	Sync        Sync
	TwelveData  twelvedata.Config
	Polygon     polygon.Config
	DB          db.Config
	StoreEngine string
	DatabaseURL string
	Redis       redis.Config
	CacheTTL    time.Duration
	SnapshotDir string
	Log         logger.Config
	JWTSecret   string
	HTTPAddr    string
}

// Load reads .env (if present), the YAML file named by SYNC_CONFIG_FILE (if set)
// and the environment. Environment variables win over the file.
func Load() (*Config, error) {
	// .env が無い場合は無視する
	_ = godotenv.Load()

	cfg := &Config{
		Sync: Sync{
			Symbols:     DefaultSymbols,
			EpochRaw:    usecase.DefaultEpochStart.Format(entity.DateLayout),
			Concurrency: 1,
			TimeoutRaw:  usecase.DefaultFetchTimeout.String(),
			RateLimit:   8,
			Provider:    ProviderTwelveData,
		},
	}

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sync config: %w", err)
		}
		err = decodeSync(f, &cfg.Sync)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeSync overlays the YAML document in r onto s.
func decodeSync(r io.Reader, s *Sync) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read sync config: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal sync config: %w", err)
	}
	s.Symbols = SplitSymbols(strings.Join(s.Symbols, ","))
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SYNC_SYMBOLS"); v != "" {
		c.Sync.Symbols = SplitSymbols(v)
	}
	if v := os.Getenv("SYNC_EPOCH_START"); v != "" {
		c.Sync.EpochRaw = v
	}
	if v := os.Getenv("SYNC_FETCH_TIMEOUT"); v != "" {
		c.Sync.TimeoutRaw = v
	}
	if v := os.Getenv("MARKET_PROVIDER"); v != "" {
		c.Sync.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	var err error
	if c.Sync.Concurrency, err = envInt("SYNC_CONCURRENCY", c.Sync.Concurrency); err != nil {
		return err
	}
	if c.Sync.RateLimit, err = envInt("SYNC_RATE_LIMIT", c.Sync.RateLimit); err != nil {
		return err
	}

	c.TwelveData = twelvedata.LoadConfig()
	c.Polygon = polygon.LoadConfig()
	c.DB = db.LoadConfigFromEnv()
	c.StoreEngine = strings.ToLower(envOr("STORE_ENGINE", EngineGorm))
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.Redis = redis.Config{
		Host:     os.Getenv("REDIS_HOST"),
		Port:     os.Getenv("REDIS_PORT"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if c.CacheTTL, err = envDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return err
	}
	c.SnapshotDir = os.Getenv("SNAPSHOT_DIR")
	c.Log = logger.Config{
		Level:    envOr("LOG_LEVEL", "info"),
		Format:   envOr("LOG_FORMAT", "text"),
		FilePath: os.Getenv("LOG_FILE"),
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	c.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	return nil
}

// Validate checks the composed configuration and resolves the raw sync fields.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Sync.Symbols) == 0 {
		errs = append(errs, errors.New("sync: symbol list is empty"))
	}
	epoch, err := time.Parse(entity.DateLayout, c.Sync.EpochRaw)
	if err != nil {
		errs = append(errs, fmt.Errorf("sync: invalid epoch_start %q", c.Sync.EpochRaw))
	}
	c.Sync.EpochStart = epoch
	timeout, err := time.ParseDuration(c.Sync.TimeoutRaw)
	if err != nil || timeout <= 0 {
		errs = append(errs, fmt.Errorf("sync: invalid fetch_timeout %q", c.Sync.TimeoutRaw))
	}
	c.Sync.FetchTimeout = timeout
	if c.Sync.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sync: concurrency must be >= 1, got %d", c.Sync.Concurrency))
	}
	if c.Sync.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("sync: rate_limit must be >= 0, got %d", c.Sync.RateLimit))
	}

	switch c.Sync.Provider {
	case ProviderTwelveData, ProviderPolygon:
	default:
		errs = append(errs, fmt.Errorf("unknown market provider %q", c.Sync.Provider))
	}
	switch c.DB.Driver {
	case db.DriverMySQL, db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DB.Driver))
	}
	switch c.StoreEngine {
	case EngineGorm:
	case EnginePgx:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("store engine pgx requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store engine %q", c.StoreEngine))
	}
	return errors.Join(errs...)
}

// SplitSymbols parses a comma separated symbol list, dropping blanks and duplicates.
func SplitSymbols(s string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
