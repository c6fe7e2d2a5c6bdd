package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-digest-service/internal/cache"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
	"github.com/kjstillabower/forecast-digest-service/internal/service"
	"github.com/kjstillabower/forecast-digest-service/internal/traffic"
)

// blockingClient never answers before the request context ends.
type blockingClient struct{}

func (blockingClient) GetForecast(ctx context.Context) (models.ForecastDocument, error) {
	<-ctx.Done()
	return models.ForecastDocument{}, ctx.Err()
}

func (blockingClient) ValidateAPIKey(ctx context.Context) error { return nil }

func TestMiddleware_CorrelationIDAssigned(t *testing.T) {
	s := newTestServer(t, &mockForecastClient{doc: loadDocument(t)}, nil, nil)

	w := s.get(t, forecastPath("臺北市", ""))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	var seen string
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if seen != "client-provided-id" {
		t.Errorf("context correlation id = %q", seen)
	}
	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "client-provided-id" {
		t.Errorf("request logger did not carry correlation_id: %v", entries)
	}
}

func TestMiddleware_GetRouteUsesTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	var route string
	router.HandleFunc("/forecast/{location}", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})

	req := httptest.NewRequest(http.MethodGet, forecastPath("臺北市", ""), nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if route != "/forecast/{location}" {
		t.Errorf("getRoute() = %q, want /forecast/{location}", route)
	}
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute() without route = %q, want unmatched", got)
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	s := newTestServer(t, &mockForecastClient{}, nil, nil)

	w := s.get(t, "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)
	svc := service.NewForecastService(blockingClient{}, cache.NewInMemoryCache(0), nil, service.Config{TTL: time.Minute})
	h := NewHandler(svc, HandlerConfig{LocationMaxLength: 32}, nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), RouterConfig{RequestTimeout: 50 * time.Millisecond})

	start := time.Now()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, forecastPath("臺北市", ""), nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d (timeout should surface as upstream error)", w.Code, http.StatusServiceUnavailable)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v, timeout not applied", elapsed)
	}
	if errs, _ := traffic.ErrorRate(time.Minute); errs != 1 {
		t.Errorf("recorded %d errors, want 1", errs)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	s := newTestServer(t, &mockForecastClient{doc: loadDocument(t)}, nil, nil)
	s.router = NewRouter(s.handler, zap.NewNop(), RouterConfig{Limiter: rate.NewLimiter(1, 2)})

	for i := 0; i < 3; i++ {
		w := s.get(t, forecastPath("臺北市", "/summary"))
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
		}
	}
	if got := traffic.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}

	// health is outside the limited subrouter
	if w := s.get(t, "/health"); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200 while data routes are limited", w.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	w := httptest.NewRecorder()
	RateLimitMiddleware(nil)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 (nil limiter should allow)", w.Code)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &mockForecastClient{doc: loadDocument(t)}, nil, nil)
	s.router = NewRouter(s.handler, zap.NewNop(), RouterConfig{CORSAllowedOrigins: []string{"http://localhost:8501"}})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:8501", "http://localhost:8501"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/locations", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestCORS_NoOriginsReturnsHandler(t *testing.T) {
	next := http.NotFoundHandler()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	CORS(nil, next).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		close(done)
	}()
	<-entered
	if got := InFlightCount(); got < 1 {
		t.Errorf("InFlightCount() = %d during request, want >= 1", got)
	}
	close(release)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForInFlight() = %v", err)
	}
}
