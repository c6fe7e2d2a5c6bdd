package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

// DatasetRefresher is implemented by the service layer to fetch the dataset and
// store it in the cache. Used by CacheWarmer to avoid a circular dependency on
// the service package.
type DatasetRefresher interface {
	Refresh(ctx context.Context) error
}

// CacheWarmer keeps the cached dataset fresh by refreshing it on a schedule.
type CacheWarmer struct {
	refresher DatasetRefresher
	logger    *zap.Logger
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each refresh; zero means 30s.
func NewCacheWarmer(refresher DatasetRefresher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{refresher: refresher, logger: logger, timeout: timeout}
}

// Warm runs one refresh and records its outcome.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.refresher.Refresh(ctx)
	duration := time.Since(start).Seconds()
	observability.RefreshDurationSeconds.Observe(duration)
	if err != nil {
		observability.RefreshRunsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("dataset refresh failed", zap.Error(err), zap.Float64("duration_seconds", duration))
		return fmt.Errorf("cache warming: %w", err)
	}
	observability.RefreshRunsTotal.WithLabelValues("success").Inc()
	w.logger.Info("dataset refreshed", zap.Float64("duration_seconds", duration))
	return nil
}

// Start warms once, then refreshes every interval in the background until Stop.
// Overlapping runs are skipped.
func (w *CacheWarmer) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache warming: interval must be positive, got %s", interval)
	}
	_ = w.Warm(ctx)

	w.scheduler = gocron.NewScheduler(time.UTC)
	_, err := w.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(func() {
		_ = w.Warm(context.WithoutCancel(ctx))
	})
	if err != nil {
		return fmt.Errorf("cache warming: schedule: %w", err)
	}
	w.scheduler.StartAsync()
	w.logger.Info("periodic refresh scheduled", zap.Duration("interval", interval))
	return nil
}

// Stop cancels future refreshes. Safe to call when Start was never called.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
