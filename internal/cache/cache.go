// Package cache holds the last-transaction-time cache in process, in Redis,
// or in both.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
)

// New builds the cache selected by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLocal(cfg.MaxEntries), nil

	case "redis":
		client, err := Dial(cfg)
		if err != nil {
			return nil, err
		}
		remote := NewRemote(client)
		if !cfg.Tiered {
			return remote, nil
		}
		return NewTiered(NewLocal(cfg.MaxEntries), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("%w: unsupported cache type %q", domain.ErrInvalidInput, cfg.Type)
	}
}

const defaultLocalTTL = 5 * time.Second

// Tiered reads through a local tier to a shared one. Writes go to both.
type Tiered struct {
	local    domain.Cache
	shared   domain.Cache
	localTTL time.Duration
}

// NewTiered places local in front of shared. Entries are served locally for
// at most localTTL.
func NewTiered(local, shared domain.Cache, localTTL time.Duration) *Tiered {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &Tiered{local: local, shared: shared, localTTL: localTTL}
}

func (c *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err == nil && val != nil {
		metrics.CacheLookupsTotal.WithLabelValues("local", "hit").Inc()
		return val, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("local", "miss").Inc()

	val, err := c.shared.Get(ctx, key)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("shared", "error").Inc()
		return nil, err
	}
	if val == nil {
		metrics.CacheLookupsTotal.WithLabelValues("shared", "miss").Inc()
		return nil, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("shared", "hit").Inc()
	_ = c.local.Set(ctx, key, val, c.localTTL)
	return val, nil
}

func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, min(ttl, c.localTTL))
}

func (c *Tiered) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.shared.Delete(ctx, key)
}

func (c *Tiered) Ping(ctx context.Context) error {
	if err := c.shared.Ping(ctx); err != nil {
		return fmt.Errorf("shared tier: %w", err)
	}
	return nil
}

func (c *Tiered) Close() error {
	_ = c.local.Close()
	return c.shared.Close()
}
