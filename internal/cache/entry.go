package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

const keyPrefix = "forecast:"

// maxRelativeExp is the memcached limit for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * time.Hour

// entry is the stored envelope shared by every backend. Remote backends keep it
// as JSON and let the server expire it at ExpiresAt + stale window.
type entry struct {
	Document  models.ForecastDocument `json:"document"`
	StoredAt  time.Time               `json:"storedAt"`
	ExpiresAt time.Time               `json:"expiresAt"`
}

func newEntry(doc models.ForecastDocument, now time.Time, ttl time.Duration) entry {
	return entry{Document: doc, StoredAt: now, ExpiresAt: now.Add(ttl)}
}

func (e entry) fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func (e entry) retained(now time.Time, staleTTL time.Duration) bool {
	return now.Before(e.ExpiresAt.Add(staleTTL))
}

func encodeEntry(e entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return raw, nil
}

func decodeEntry(raw []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}

// retention is how long a remote backend should hold an entry: fresh TTL plus the stale window.
func retention(ttl, staleTTL time.Duration) time.Duration {
	d := ttl + staleTTL
	if d <= 0 {
		d = time.Hour
	}
	if d > maxRelativeExp {
		d = maxRelativeExp
	}
	return d
}

// observe records latency and, on failure, an error category for a backend operation.
func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		observability.CacheErrorsTotal.WithLabelValues(operation, categorize(err)).Inc()
	}
	observability.CacheOperationDurationSeconds.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func categorize(err error) string {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case strings.Contains(err.Error(), "decode"), strings.Contains(err.Error(), "encode"):
		return "encoding"
	case strings.Contains(err.Error(), "timeout"):
		return "timeout"
	case strings.Contains(err.Error(), "connect"):
		return "network"
	}
	return "unknown"
}
