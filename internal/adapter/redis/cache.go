// Package redis caches rendered risk reports per location so repeated lookups
// within the TTL skip the weather API and the history store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

// DefaultTTL is how long a cached report stays fresh.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "assessment:"

// Connect parses a redis:// URL and verifies the server responds.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Cache is a JSON cache-aside store keyed by normalized location.
type Cache[T any] struct {
	client  redis.Cmdable
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCache creates a Cache. A non-positive ttl falls back to DefaultTTL.
func NewCache[T any](client redis.Cmdable, ttl time.Duration, metrics *observability.Metrics) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{client: client, ttl: ttl, metrics: metrics}
}

// Key returns the Redis key for a location, e.g. "assessment:new_delhi".
func Key(location string) string {
	return keyPrefix + domain.NormalizeLocation(location)
}

// Get returns the cached value and true on a hit. A miss is (zero, false, nil).
// Undecodable entries count as misses.
func (c *Cache[T]) Get(ctx context.Context, location string) (T, bool, error) {
	var zero T
	data, err := c.client.Get(ctx, Key(location)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.AssessmentCache.WithLabelValues("miss").Inc()
		return zero, false, nil
	}
	if err != nil {
		c.metrics.AssessmentCache.WithLabelValues("error").Inc()
		return zero, false, fmt.Errorf("get %s: %w", Key(location), err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.metrics.AssessmentCache.WithLabelValues("miss").Inc()
		return zero, false, nil
	}
	c.metrics.AssessmentCache.WithLabelValues("hit").Inc()
	return v, true, nil
}

// Set stores v under the location key with the configured TTL.
func (c *Cache[T]) Set(ctx context.Context, location string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", Key(location), err)
	}
	if err := c.client.Set(ctx, Key(location), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", Key(location), err)
	}
	return nil
}

// Invalidate drops the cached value for a location.
func (c *Cache[T]) Invalidate(ctx context.Context, location string) error {
	if err := c.client.Del(ctx, Key(location)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", Key(location), err)
	}
	return nil
}
