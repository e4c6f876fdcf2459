package cache

import (
	"context"
	"time"

	"github.com/ragrelay/ragrelay/internal/redis"
	"github.com/ragrelay/ragrelay/pkg/logging"
	"github.com/ragrelay/ragrelay/pkg/metrics"
)

// RedisCache stores fallback results in Redis so cached responses
// survive process restarts and are shared across instances. It
// implements resilience.ResultCache.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// Config holds Redis cache configuration
type Config struct {
	KeyPrefix string `json:"key_prefix"`
	// Metrics records cache operation counters when set
	Metrics *metrics.Metrics `json:"-"`
}

// NewRedisCache creates a Redis-backed result cache
func NewRedisCache(client *redis.Client, cfg *Config) *RedisCache {
	prefix := "ragrelay:fallback:"
	var m *metrics.Metrics
	if cfg != nil {
		if cfg.KeyPrefix != "" {
			prefix = cfg.KeyPrefix
		}
		m = cfg.Metrics
	}

	return &RedisCache{
		client:    client,
		keyPrefix: prefix,
		logger:    logging.GetLogger(),
		metrics:   m,
	}
}

// Get retrieves a cached result. Redis errors are treated as misses so
// a cache outage never fails the request path.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := c.client.Get(ctx, c.keyPrefix+key)
	if err != nil {
		c.logger.Warn("Cache read failed", "key", key, "error", err.Error())
		c.record("get", "error")
		return nil, false
	}
	if !found {
		c.record("get", "miss")
		return nil, false
	}
	c.record("get", "hit")
	return []byte(value), true
}

// Set stores a result with the given TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, string(value), ttl); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err.Error())
		c.record("set", "error")
		return err
	}
	c.record("set", "ok")
	return nil
}

// Delete removes a cached result
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key)
}

// Clear removes all cached results under this cache's prefix
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, c.keyPrefix+"*")
	if err != nil {
		return err
	}
	return c.client.Del(ctx, keys...)
}

func (c *RedisCache) record(operation, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(operation, result)
	}
}
