package domain

import (
	"context"
	"time"
)

// Cache is a byte-valued key store with per-key expiry. The scoring path
// keeps each user's last transaction time in it.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `json:"type"`

	// EntryTTL is how long a user's last transaction time is remembered.
	EntryTTL time.Duration `json:"entryTtl"`

	// MaxEntries bounds the in-process tier.
	MaxEntries int `json:"maxEntries"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`

	// Tiered puts the in-process tier in front of Redis. LocalTTL caps how
	// long an entry may be served locally before Redis is asked again.
	Tiered   bool          `json:"tiered"`
	LocalTTL time.Duration `json:"localTtl"`
}
