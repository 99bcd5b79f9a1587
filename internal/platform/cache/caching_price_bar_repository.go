// Package cache provides caching implementations for repository interfaces.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultNamespace = "bars"
	scanCount        = 200
)

// PriceBarRepository is the store decorated by CachingPriceBarRepository.
type PriceBarRepository interface {
	usecase.PriceBarStore
	usecase.PriceBarReader
}

// CachingPriceBarRepository decorates a PriceBarRepository with Redis caching of Find.
// Writes go to the inner store first and then invalidate every cached query of the
// written symbols. Watermark reads are never cached.
type CachingPriceBarRepository struct {
	inner     PriceBarRepository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

var _ PriceBarRepository = (*CachingPriceBarRepository)(nil)

// NewCachingPriceBarRepository decorates inner with Redis caching.
// If ttl is 0, it defaults to 5 minutes. If namespace is empty, it uses "bars".
func NewCachingPriceBarRepository(rdb *redis.Client, ttl time.Duration, inner PriceBarRepository, namespace string) *CachingPriceBarRepository {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &CachingPriceBarRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// LastDate passes through to the inner store.
func (c *CachingPriceBarRepository) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return c.inner.LastDate(ctx, symbol)
}

// LastDates passes through to the inner store.
func (c *CachingPriceBarRepository) LastDates(ctx context.Context) (map[string]time.Time, error) {
	return c.inner.LastDates(ctx)
}

// Reconcile writes bars and invalidates cached queries of the affected symbols.
func (c *CachingPriceBarRepository) Reconcile(ctx context.Context, bars []entity.PriceBar) (entity.ReconcileResult, error) {
	res, err := c.inner.Reconcile(ctx, bars)
	if err != nil {
		return res, err
	}
	if c.rdb == nil || res.Inserted+res.Updated == 0 {
		return res, nil
	}

	seen := map[string]struct{}{}
	for _, b := range bars {
		prefix := c.cacheKeyPrefix(b.Symbol)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		// キャッシュ削除の失敗は書き込み結果に影響させない
		if err := c.deleteByPattern(ctx, prefix+"*"); err != nil {
			slog.Warn("cache invalidation failed", "symbol", b.Symbol, "error", err)
		}
	}
	return res, nil
}

// Find retrieves bars, checking cache first then falling back to the database.
func (c *CachingPriceBarRepository) Find(ctx context.Context, q usecase.BarQuery) ([]entity.PriceBar, error) {
	if c.rdb == nil {
		return c.inner.Find(ctx, q)
	}

	key := c.cacheKey(q)

	// 1) キャッシュを確認
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []entity.PriceBar
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	// 2) DBへフォールバック
	out, err := c.inner.Find(ctx, q)
	if err != nil {
		return nil, err
	}

	// 3) キャッシュへ保存（ベストエフォート）
	if b, err := json.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}
	return out, nil
}

func (c *CachingPriceBarRepository) cacheKey(q usecase.BarQuery) string {
	return fmt.Sprintf("%s%s:%s:%d", c.cacheKeyPrefix(q.Symbol), dateKey(q.From), dateKey(q.To), q.Limit)
}

func (c *CachingPriceBarRepository) cacheKeyPrefix(symbol string) string {
	return fmt.Sprintf("%s:%s:", c.namespace, safe(symbol))
}

// deleteByPattern deletes all cache keys matching a given pattern using SCAN.
func (c *CachingPriceBarRepository) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			return nil
		}
	}
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(entity.DateLayout)
}

// safe escapes characters that are problematic for Redis keys.
// "*" and "?" are escaped too so that SCAN patterns built from a symbol stay literal.
func safe(s string) string {
	return strings.NewReplacer(" ", "_", ":", "_", "*", "_", "?", "_").Replace(s)
}
