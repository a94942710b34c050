package memory

import (
	"context"
	"sync"
	"time"
)

// Cache is an in-memory implementation of cache.Cache with real TTL
// semantics. It is intended for tests.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	// Now is swappable so tests can control expiry.
	Now func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time // zero = no expiration
}

func New() *Cache {
	return &Cache{items: make(map[string]entry), Now: time.Now}
}

func (c *Cache) SetIfNotExists(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.items[key] = entry{value: value, expiresAt: c.deadline(ttl)}
	return true, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expiresAt: c.deadline(ttl)}
	return nil
}

func (c *Cache) GetWithExpiry(_ context.Context, key string) (string, time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return "", 0, false, nil
	}
	var ttl time.Duration
	if !e.expiresAt.IsZero() {
		ttl = e.expiresAt.Sub(c.Now())
	}
	return e.value, ttl, true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *Cache) ExtendExpiry(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = c.deadline(ttl)
	c.items[key] = e
	return nil
}

// live returns the entry for key, evicting it first if expired. Callers must
// hold mu.
func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.Now().Before(e.expiresAt) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.Now().Add(ttl)
}
