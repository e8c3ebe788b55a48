package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key this service writes to Redis.
const KeyPrefix = "fraudwatch:"

// Dial connects to the Redis server described by cfg and verifies the
// connection. The suggestion queue shares it.
func Dial(cfg domain.CacheConfig) (*redis.Client, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Remote stores entries in Redis under KeyPrefix.
type Remote struct {
	client *redis.Client
}

// NewRemote wraps an existing client.
func NewRemote(client *redis.Client) *Remote {
	return &Remote{client: client}
}

func (c *Remote) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *Remote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, KeyPrefix+key, value, ttl).Err()
}

func (c *Remote) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, KeyPrefix+key).Err()
}

func (c *Remote) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Remote) Close() error {
	return c.client.Close()
}
