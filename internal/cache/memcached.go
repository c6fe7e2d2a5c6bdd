package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client   *memcache.Client
	staleTTL time.Duration
	now      func() time.Time
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleTTL time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleTTL: staleTTL, now: time.Now}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) load(ctx context.Context, op, key string) (entry, bool, error) {
	if ctx.Err() != nil {
		return entry{}, false, ctx.Err()
	}
	start := time.Now()
	item, err := c.client.Get(keyPrefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		observe(op, start, nil)
		return entry{}, false, nil
	}
	if err != nil {
		observe(op, start, err)
		return entry{}, false, err
	}
	e, err := decodeEntry(item.Value)
	observe(op, start, err)
	if err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

// Get implements Cache.Get. Returns false, nil on miss or when only a stale entry exists.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastDocument, bool, error) {
	e, ok, err := c.load(ctx, "get", key)
	if err != nil || !ok || !e.fresh(c.now()) {
		return models.ForecastDocument{}, false, err
	}
	return e.Document, true, nil
}

// GetStale implements Cache.GetStale. Memcached drops entries after the stale window.
func (c *MemcachedCache) GetStale(ctx context.Context, key string) (models.ForecastDocument, time.Time, bool, error) {
	e, ok, err := c.load(ctx, "get_stale", key)
	if err != nil || !ok {
		return models.ForecastDocument{}, time.Time{}, false, err
	}
	return e.Document, e.StoredAt, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastDocument, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	raw, err := encodeEntry(newEntry(value, c.now(), ttl))
	if err == nil {
		err = c.client.Set(&memcache.Item{
			Key:        keyPrefix + key,
			Value:      raw,
			Expiration: int32(retention(ttl, c.staleTTL).Seconds()),
		})
	}
	observe("set", start, err)
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
