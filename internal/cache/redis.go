package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
)

const redisOpTimeout = 2 * time.Second

// Redis shares computed compositions between instances. Failures are logged
// and reported as misses so the cache never fails a calculation.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
	stats  counters
}

// NewRedis wraps client. The cache does not own the client; callers close it.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		prefix: "cache:",
		logger: logger,
	}
}

// Get fetches and decodes a composition.
func (c *Redis) Get(ctx context.Context, key string) (calculator.Composition, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis cache get failed", zap.String("key", key), zap.Error(err))
		c.stats.misses.Add(1)
		return nil, false
	}

	var result calculator.Composition
	if err := json.Unmarshal(val, &result); err != nil {
		c.logger.Warn("redis cache entry corrupt", zap.String("key", key), zap.Error(err))
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return result, true
}

// Set encodes and stores value with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value calculator.Composition) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.stats.sets.Add(1)
}

// Stats returns process-local counters; CurrentSize is not tracked for Redis.
func (c *Redis) Stats() Stats {
	return c.stats.snapshot(0)
}

// Close is a no-op; the client belongs to the caller.
func (c *Redis) Close() error {
	return nil
}
