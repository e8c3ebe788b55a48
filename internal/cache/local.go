package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

const defaultMaxEntries = 10000

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// Local is the in-process tier: a size-bounded LRU whose entries also expire.
type Local struct {
	mu         sync.Mutex
	entries    *lru.Cache
	maxEntries int
	now        func() time.Time
}

// NewLocal creates an in-process cache holding at most maxEntries keys.
func NewLocal(maxEntries int) *Local {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Local{
		entries:    lru.New(maxEntries),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *Local) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	entry := v.(localEntry)
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

func (c *Local) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, localEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *Local) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(key)
	return nil
}

func (c *Local) Ping(ctx context.Context) error { return nil }

// Close drops every entry.
func (c *Local) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Clear()
	return nil
}

// Len reports how many keys are held, expired ones included.
func (c *Local) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Cap reports the entry limit.
func (c *Local) Cap() int { return c.maxEntries }
