package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate by route template. Watch for: drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP latency per request. Watch for: p95 growth when the upstream is slow.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// CWA open-data API calls by outcome label (success, client_error, server_error, ...).
	ForecastAPICallsTotal *prometheus.CounterVec

	// CWA latency. The full F-C0032-001 dataset is ~100KB; p95 > 2s means upstream trouble.
	ForecastAPIDuration *prometheus.HistogramVec

	CacheHitsTotal                *prometheus.CounterVec
	CacheErrorsTotal              *prometheus.CounterVec
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Stale dataset served because the upstream failed. Any sustained rate is an incident.
	StaleCacheServesTotal prometheus.Counter
	StaleCacheAgeSeconds  prometheus.Histogram

	RequestCoalescingHitsTotal prometheus.Counter
	CacheStampedeDetectedTotal prometheus.Counter

	// Pipeline runs by stage and outcome ("ok" or a pipeline code such as PARSE_ERROR).
	PipelineRunsTotal *prometheus.CounterVec

	// Per-location lookups (allow-list; others use location=other).
	ForecastQueriesByLocationTotal *prometheus.CounterVec

	NarratorCallsTotal      *prometheus.CounterVec
	NarratorDurationSeconds *prometheus.HistogramVec

	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	RefreshRunsTotal       *prometheus.CounterVec
	RefreshDurationSeconds prometheus.Histogram

	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forecastApiCallsTotal", Help: "Total number of CWA open-data API calls"},
		[]string{"status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "CWA open-data API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Total number of fresh cache hits"},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors by operation and category"},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "status"},
	)
	StaleCacheServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "staleCacheServesTotal", Help: "Datasets served from stale cache after upstream failure"},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of stale datasets when served",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 21600},
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "requestCoalescingHitsTotal", Help: "Requests that joined an in-flight upstream fetch"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Cache misses that overlapped another miss for the same key"},
	)
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipelineRunsTotal", Help: "Forecast pipeline runs by stage and outcome"},
		[]string{"stage", "outcome"},
	)
	ForecastQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forecastQueriesByLocationTotal", Help: "Forecast queries by location (allow-list; others use location=other)"},
		[]string{"location"},
	)
	NarratorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "narratorCallsTotal", Help: "Language-model narration calls by provider and status"},
		[]string{"provider", "status"},
	)
	NarratorDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narratorDurationSeconds",
			Help:    "Language-model narration latency in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"provider"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)"},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "refreshRunsTotal", Help: "Scheduled dataset refresh runs by status"},
		[]string{"status"},
	)
	RefreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Scheduled dataset refresh duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		RequestCoalescingHitsTotal, CacheStampedeDetectedTotal,
		PipelineRunsTotal, ForecastQueriesByLocationTotal,
		NarratorCallsTotal, NarratorDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RefreshRunsTotal, RefreshDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// SetTrackedLocations sets the allow-list for per-location metrics.
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[strings.TrimSpace(loc)] = struct{}{}
	}
}

// MetricLocationLabel returns location if it is tracked, otherwise "other".
func MetricLocationLabel(location string) string {
	loc := strings.TrimSpace(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordForecastQuery counts a lookup for location.
func RecordForecastQuery(location string) {
	ForecastQueriesByLocationTotal.WithLabelValues(MetricLocationLabel(location)).Inc()
}

// RecordPipelineOutcome counts one stage outcome; an empty code records "ok".
func RecordPipelineOutcome(stage, code string) {
	if code == "" {
		code = "ok"
	}
	PipelineRunsTotal.WithLabelValues(stage, code).Inc()
}

// RecordCircuitBreakerTransition updates the transition counter and state gauge.
// state follows the circuitbreaker.State numbering.
func RecordCircuitBreakerTransition(component, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// MetricsHandler serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
