package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-digest-service/internal/forecast"
	"github.com/kjstillabower/forecast-digest-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
	"github.com/kjstillabower/forecast-digest-service/internal/service"
	"github.com/kjstillabower/forecast-digest-service/internal/traffic"
	"github.com/kjstillabower/forecast-digest-service/internal/validation"
)

const warningsHeader = "X-Forecast-Warnings"

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	Window           time.Duration // error-rate window
	DegradedErrorPct int
	MinRequests      int // below this many requests in Window the error rate is ignored
	Version          string
	// CachePing, when set, is called to check cache reachability.
	CachePing func(ctx context.Context) error
}

// HandlerConfig holds request-level settings.
type HandlerConfig struct {
	Locations         []string // selectable cities offered to dashboards
	DefaultLocation   string
	LocationMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecastService  *service.ForecastService
	cfg              HandlerConfig
	healthConfig     *HealthConfig
	logger           *zap.Logger
	phase            func() lifecycle.Phase
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(forecastService *service.ForecastService, cfg HandlerConfig, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		forecastService: forecastService,
		cfg:             cfg,
		healthConfig:    healthConfig,
		logger:          logger,
		phase:           lifecycle.CurrentPhase,
	}
}

type locationsResponse struct {
	Configured []string `json:"configured"`
	Default    string   `json:"default"`
	Available  []string `json:"available"`
}

// GetLocations handles GET /locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	names, err := h.forecastService.LocationNames(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, locationsResponse{
		Configured: h.cfg.Locations,
		Default:    h.cfg.DefaultLocation,
		Available:  names,
	})
}

type digestResponse struct {
	*forecast.Result
	Lines     []string  `json:"lines,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale"`
}

func newDigestResponse(d service.Digest) digestResponse {
	resp := digestResponse{Result: d.Result, FetchedAt: d.FetchedAt, Stale: d.Stale}
	if len(d.Summary) > 0 {
		resp.Lines = d.Summary.Lines()
	}
	return resp
}

// GetForecast handles GET /forecast/{location}: series, summary and warnings.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	h.serveDigest(w, r, forecast.DashboardOptions())
}

// GetSeries handles GET /forecast/{location}/series. format=text returns one
// tab-separated row per period.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	h.serveDigest(w, r, forecast.Options{Series: true})
}

// GetSummary handles GET /forecast/{location}/summary. format=text returns one line per element.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.serveDigest(w, r, forecast.Options{Summary: true})
}

func (h *Handler) serveDigest(w http.ResponseWriter, r *http.Request, opts forecast.Options) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}

	d, err := h.forecastService.Digest(r.Context(), location, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	logWarnings(r, d.Warnings)

	setProvenanceHeaders(w, d)
	if q.Format == "text" {
		setWarningHeader(w, d.Warnings)
		writeText(w, http.StatusOK, digestText(d, opts))
		return
	}
	writeJSON(w, http.StatusOK, newDigestResponse(d))
}

// digestText renders the stages that ran: tab-separated "timestamp low high"
// series rows, then "label: value" summary lines, separated by a blank line
// when both are present.
func digestText(d service.Digest, opts forecast.Options) string {
	var blocks []string
	if opts.Series && len(d.Series) > 0 {
		blocks = append(blocks, strings.Join(models.SeriesLines(d.Series), "\n"))
	}
	if opts.Summary && len(d.Summary) > 0 {
		blocks = append(blocks, strings.Join(d.Summary.Lines(), "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// GetPrompt handles GET /forecast/{location}/prompt. lang and hours override the configured defaults.
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}

	opts := forecast.Options{
		Prompt:        true,
		PromptOptions: forecast.PromptOptions{Language: q.Language, Hours: q.Hours},
	}
	d, err := h.forecastService.Digest(r.Context(), location, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()

	setProvenanceHeaders(w, d)
	if q.Format == "json" {
		writeJSON(w, http.StatusOK, newDigestResponse(d))
		return
	}
	writeText(w, http.StatusOK, d.Prompt)
}

type narrativeResponse struct {
	LocationName string    `json:"locationName"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Text         string    `json:"text"`
	GeneratedAt  time.Time `json:"generatedAt"`
	FetchedAt    time.Time `json:"fetchedAt"`
	Stale        bool      `json:"stale"`
}

// GetNarrative handles GET /forecast/{location}/narrative. lang and hours shape
// the prompt as on /prompt. Returns 501 when no narrator is configured.
func (h *Handler) GetNarrative(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}

	n, err := h.forecastService.Narrate(r.Context(), location, forecast.PromptOptions{Language: q.Language, Hours: q.Hours})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()

	setProvenanceHeaders(w, n.Digest)
	if q.Format == "text" {
		writeText(w, http.StatusOK, n.Narrative.Text)
		return
	}
	writeJSON(w, http.StatusOK, narrativeResponse{
		LocationName: n.LocationName,
		Provider:     n.Narrative.Provider,
		Model:        n.Narrative.Model,
		Text:         n.Narrative.Text,
		GeneratedAt:  n.Narrative.GeneratedAt,
		FetchedAt:    n.FetchedAt,
		Stale:        n.Stale,
	})
}

type rawResponse struct {
	models.Location
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale"`
}

// GetRaw handles GET /forecast/{location}/raw: the location record as published.
func (h *Handler) GetRaw(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}
	loc, d, err := h.forecastService.Location(r.Context(), location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	setProvenanceHeaders(w, d)
	writeJSON(w, http.StatusOK, rawResponse{Location: loc, FetchedAt: d.FetchedAt, Stale: d.Stale})
}

// location validates the {location} path variable and writes a 400 on failure.
func (h *Handler) location(w http.ResponseWriter, r *http.Request) (string, bool) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], h.cfg.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", false
	}
	return location, true
}

func parseQuery(w http.ResponseWriter, r *http.Request) (validation.DigestQuery, bool) {
	v := r.URL.Query()
	q := validation.DigestQuery{
		Format:   v.Get("format"),
		Language: v.Get("lang"),
	}
	if s := v.Get("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", "hours must be an integer")
			return q, false
		}
		q.Hours = n
	}
	if err := validation.ValidateQuery(q); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return q, false
	}
	return q, true
}

func logWarnings(r *http.Request, warnings []forecast.Warning) {
	if len(warnings) == 0 {
		return
	}
	logger := observability.LoggerFromContext(r.Context())
	for _, w := range warnings {
		logger.Debug("forecast warning",
			zap.String("code", string(w.Code)),
			zap.String("element", w.Element),
			zap.String("message", w.Message))
	}
}

// setWarningHeader lists pipeline warning codes for text responses, which have
// no body field to carry them.
func setWarningHeader(w http.ResponseWriter, warnings []forecast.Warning) {
	if len(warnings) == 0 {
		return
	}
	codes := make([]string, 0, len(warnings))
	for _, wn := range warnings {
		codes = append(codes, string(wn.Code))
	}
	w.Header().Set(warningsHeader, strings.Join(codes, ","))
}

func setProvenanceHeaders(w http.ResponseWriter, d service.Digest) {
	if !d.FetchedAt.IsZero() {
		w.Header().Set("X-Forecast-Fetched-At", d.FetchedAt.UTC().Format(time.RFC3339))
	}
	if d.Stale {
		w.Header().Set("X-Forecast-Stale", "true")
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastApi": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["forecastApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if h.healthConfig.CachePing(ctx) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
		cancel()
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "forecast-digest-service",
		"version":   version,
		"narrator":  h.forecastService.NarratorEnabled(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch h.phase() {
	case lifecycle.PhaseDraining:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if h.healthConfig == nil || h.healthConfig.Window <= 0 || h.healthConfig.DegradedErrorPct <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	errs, total := traffic.ErrorRate(h.healthConfig.Window)
	if total > 0 && total >= h.healthConfig.MinRequests {
		if float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
	if body != "" && !strings.HasSuffix(body, "\n") {
		_, _ = w.Write([]byte("\n"))
	}
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps service and pipeline errors to HTTP responses. Only
// failures outside the caller's control count toward the health error rate.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	code := forecast.CodeOf(err)
	switch {
	case code == forecast.CodeNotFound:
		traffic.RecordSuccess()
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "location not found in forecast dataset")
	case code == forecast.CodeParse:
		traffic.RecordSuccess()
		writeError(w, r, http.StatusUnprocessableEntity, "FORECAST_PARSE_ERROR", err.Error())
	case code != "":
		traffic.RecordSuccess()
		writeError(w, r, http.StatusUnprocessableEntity, "FORECAST_"+string(code), err.Error())
	case errors.Is(err, service.ErrNarratorDisabled):
		writeError(w, r, http.StatusNotImplemented, "NARRATOR_DISABLED", "no narrator is configured")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		traffic.RecordError()
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data")
		logger.Debug("upstream error", zap.Error(err))
	case errors.Is(err, service.ErrNarrationFailed):
		traffic.RecordError()
		writeError(w, r, http.StatusBadGateway, "NARRATOR_FAILED", "narration failed")
		logger.Warn("narration error", zap.Error(err))
	case errors.Is(err, context.DeadlineExceeded):
		traffic.RecordError()
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	default:
		traffic.RecordError()
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		logger.Error("unhandled service error", zap.Error(err))
	}
}
