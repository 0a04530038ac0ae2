package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/acme/autocert"
)

var _ autocert.Cache = (*Cache)(nil)

// Cache stores ACME accounts and certificates in Redis. It satisfies
// autocert.Cache, so it plugs into letsencrypt.NewAccountStore and
// letsencrypt.NewCertificateStore.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithKeyPrefix namespaces every key. Defaults to "autotls:".
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithTTL expires entries after d. Zero keeps them forever.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d >= 0 {
			c.ttl = d
		}
	}
}

// NewCache creates a Redis-backed cache.
func NewCache(client redis.UniversalClient, opts ...CacheOption) (*Cache, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	c := &Cache{client: client, prefix: "autotls:"}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value for key or autocert.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, autocert.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Put stores data under key.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
