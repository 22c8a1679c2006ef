package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/redisx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache is a JSON read-through cache. Concurrent misses on one key share a single load.
type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

func (c *Cache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}

	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}

	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, string(b), ttl).Err()
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return c.rdb.Del(ctx, keys...).Err()
}

// loadThrough returns the cached value under key or stores what load returns.
// A failed store is ignored; the loaded value is still returned.
func loadThrough[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	if ok, err := c.getJSON(ctx, key, &out); err != nil || ok {
		return out, err
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		var again T
		if ok, err := c.getJSON(ctx, key, &again); err != nil || ok {
			return again, err
		}

		fresh, err := load(ctx)
		if err != nil {
			return nil, err
		}

		_ = c.setJSON(ctx, key, fresh, ttl)
		return fresh, nil
	})
	if err != nil {
		return out, err
	}

	return v.(T), nil
}

// StatsCache memoizes ledger statistics for a short time. Writers invalidate it.
type StatsCache struct {
	c   *Cache
	ttl time.Duration
}

func NewStatsCache(c *Cache, ttl time.Duration) *StatsCache {
	return &StatsCache{c: c, ttl: ttl}
}

func (s *StatsCache) Get(
	ctx context.Context,
	loader func(ctx context.Context) (domain.LedgerStats, error),
) (domain.LedgerStats, error) {
	return loadThrough(ctx, s.c, redisx.KeyLedgerStats(), s.ttl, loader)
}

func (s *StatsCache) Invalidate(ctx context.Context) error {
	return s.c.Del(ctx, redisx.KeyLedgerStats())
}
