package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tomehq/tome/pkg/config"
)

// Cache wraps the redis client shared by the query and embedding caches.
type Cache struct {
	rdb *redis.Client
}

// New creates a cache backed by the redis instance at cfg.URL.
func New(cfg config.RedisConfig) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies the redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
