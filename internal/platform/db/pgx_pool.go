package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

// PoolConfig configures the pgx pool used by the pgx store engine.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	LogLevel        string // debug logs every statement
}

// schemaSQL mirrors the gorm models so both engines share one schema.
var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	symbol      VARCHAR(32)    NOT NULL,
	price_date  DATE           NOT NULL,
	open_price  DECIMAL(20,6)  NOT NULL,
	high_price  DECIMAL(20,6)  NOT NULL,
	low_price   DECIMAL(20,6)  NOT NULL,
	close_price DECIMAL(20,6)  NOT NULL,
	volume      BIGINT         NOT NULL DEFAULT 0,
	ingested_at TIMESTAMPTZ    NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS price_history_symbol_date ON price_history (symbol, price_date)`,
}

// NewPool creates a pgx connection pool and verifies it with a ping.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   SlogTraceLogger(slog.Default()),
		LogLevel: traceLevel(cfg.LogLevel),
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("PostgreSQL pool connected", "max_conns", poolConfig.MaxConns)
	return pool, nil
}

// EnsureSchema creates the price_history table when it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SlogTraceLogger adapts a slog.Logger to pgx's tracelog.Logger.
func SlogTraceLogger(l *slog.Logger) tracelog.LoggerFunc {
	return func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		attrs := make([]slog.Attr, 0, len(data))
		for k, v := range data {
			attrs = append(attrs, slog.Any(k, v))
		}
		l.LogAttrs(ctx, slogLevel(level), msg, attrs...)
	}
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return slog.LevelDebug
	case tracelog.LogLevelInfo:
		return slog.LevelInfo
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// traceLevel logs every statement at debug; otherwise only failures.
func traceLevel(s string) tracelog.LogLevel {
	if s == "debug" {
		return tracelog.LogLevelDebug
	}
	return tracelog.LogLevelError
}
