package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest struct {
	done   chan struct{}
	result models.ForecastDocument
	err    error
}

// requestCoalescer collapses concurrent upstream fetches for the same key into one.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight request for key or starts fn. shared reports whether
// the caller joined an existing request. fn runs detached from the caller's
// cancellation so one departing caller does not fail the others; each caller
// still stops waiting on its own ctx or the coalescer timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.ForecastDocument, error)) (doc models.ForecastDocument, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		rc.mu.Unlock()

		fnCtx := context.WithoutCancel(ctx)
		go func() {
			req.result, req.err = fn(fnCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(req.done)
		}()
	} else {
		rc.mu.Unlock()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		return models.ForecastDocument{}, exists, waitCtx.Err()
	}
}
