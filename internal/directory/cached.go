package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/redis/go-redis/v9"
)

var (
	cacheHitCounter   = metrics.GetOrCreateCounter(`boost_directory_cache_total{result="hit"}`)
	cacheMissCounter  = metrics.GetOrCreateCounter(`boost_directory_cache_total{result="miss"}`)
	cacheErrorCounter = metrics.GetOrCreateCounter(`boost_directory_cache_total{result="error"}`)
)

// Cache is the subset of the redis client the read-through cache uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cached is a read-through cache in front of another directory. Only
// successful lookups are cached. Redis failures fall through to the backing
// directory.
type Cached struct {
	next   Directory
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Directory, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) SubscriberID(ctx context.Context, payerID string) (string, error) {
	return c.lookup(ctx, "boost:subscriber:"+payerID, func() (string, error) {
		return c.next.SubscriberID(ctx, payerID)
	})
}

func (c *Cached) EventTitle(ctx context.Context, eventID string) (string, error) {
	return c.lookup(ctx, "boost:event-title:"+eventID, func() (string, error) {
		return c.next.EventTitle(ctx, eventID)
	})
}

func (c *Cached) lookup(ctx context.Context, key string, load func() (string, error)) (string, error) {
	value, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		cacheHitCounter.Inc()
		return value, nil
	case errors.Is(err, redis.Nil):
		cacheMissCounter.Inc()
	default:
		cacheErrorCounter.Inc()
		c.logger.WarnContext(ctx, "Error reading directory cache", "key", key, "error", err)
	}

	value, err = load()
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, value, c.ttl).Err(); err != nil {
		cacheErrorCounter.Inc()
		c.logger.WarnContext(ctx, "Error writing directory cache", "key", key, "error", err)
	}
	return value, nil
}
