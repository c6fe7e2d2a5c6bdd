package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// Cache stores whole forecast documents keyed by dataset id.
// Get returns an entry only while it is fresh. GetStale returns an entry that has
// expired but is still inside the backend's stale window, along with the time it
// was stored.
type Cache interface {
	Get(ctx context.Context, key string) (models.ForecastDocument, bool, error)
	GetStale(ctx context.Context, key string) (models.ForecastDocument, time.Time, bool, error)
	Set(ctx context.Context, key string, value models.ForecastDocument, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries stay
// readable through GetStale until the stale window passes, then are dropped on access.
type InMemoryCache struct {
	mu       sync.RWMutex
	data     map[string]entry
	staleTTL time.Duration
	now      func() time.Time
}

// NewInMemoryCache returns an empty cache whose entries remain stale-readable for staleTTL.
func NewInMemoryCache(staleTTL time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:     make(map[string]entry),
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

// Get returns the document for key if present and fresh.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastDocument, bool, error) {
	e, ok := c.lookup(key)
	if !ok || !e.fresh(c.now()) {
		return models.ForecastDocument{}, false, nil
	}
	return e.Document, true, nil
}

// GetStale returns the document for key if it has not yet left the stale window.
func (c *InMemoryCache) GetStale(ctx context.Context, key string) (models.ForecastDocument, time.Time, bool, error) {
	e, ok := c.lookup(key)
	if !ok {
		return models.ForecastDocument{}, time.Time{}, false, nil
	}
	return e.Document, e.StoredAt, true, nil
}

func (c *InMemoryCache) lookup(key string) (entry, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return entry{}, false
	}
	if !e.retained(now, c.staleTTL) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && !cur.retained(now, c.staleTTL) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return entry{}, false
	}
	return e, true
}

// Set stores value under key; it is fresh for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ForecastDocument, ttl time.Duration) error {
	e := newEntry(value, c.now(), ttl)
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (c *InMemoryCache) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (c *InMemoryCache) Close() error { return nil }
