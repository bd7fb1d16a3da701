package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrMiss indicates the key is absent or the cache is disabled.
var ErrMiss = errors.New("cache: miss")

// Cache is an optional read-through response cache backed by redis. A nil
// Cache (or one built from an empty address) is valid and always misses,
// so callers never branch on whether caching is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache from config. An empty address disables caching.
func New(cfg config.RedisConfig, ttl time.Duration) *Cache {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached payload for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, ErrMiss
	}
	data, errGet := c.client.Get(ctx, key).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return nil, ErrMiss
	}
	if errGet != nil {
		// A broken cache degrades to a miss rather than failing reads.
		log.WithError(errGet).Debugf("cache: get failed (key=%s)", key)
		return nil, ErrMiss
	}
	return data, nil
}

// Set stores the payload under key for the configured TTL. Failures are
// logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, payload []byte) {
	if c == nil || c.client == nil {
		return
	}
	if errSet := c.client.Set(ctx, key, payload, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debugf("cache: set failed (key=%s)", key)
	}
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
