package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

// RouterConfig holds the middleware settings applied by NewRouter.
type RouterConfig struct {
	RequestTimeout     time.Duration
	Limiter            *rate.Limiter // nil disables rate limiting
	CORSAllowedOrigins []string
}

// NewRouter registers every route on a mux router and wraps it with CORS.
// Rate limiting and the request timeout apply to the data routes only.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	data := router.NewRoute().Subrouter()
	data.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		data.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	data.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}/series", h.GetSeries).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}/summary", h.GetSummary).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}/prompt", h.GetPrompt).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}/narrative", h.GetNarrative).Methods(http.MethodGet)
	data.HandleFunc("/forecast/{location}/raw", h.GetRaw).Methods(http.MethodGet)

	return CORS(cfg.CORSAllowedOrigins, router)
}
