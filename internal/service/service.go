package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-digest-service/internal/cache"
	"github.com/kjstillabower/forecast-digest-service/internal/client"
	"github.com/kjstillabower/forecast-digest-service/internal/forecast"
	"github.com/kjstillabower/forecast-digest-service/internal/llm"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

var (
	// ErrUpstreamUnavailable means the dataset could not be fetched and no stale copy was usable.
	ErrUpstreamUnavailable = errors.New("forecast upstream unavailable")
	// ErrNarratorDisabled means no language-model provider is configured.
	ErrNarratorDisabled = errors.New("narrator disabled")
	// ErrNarrationFailed wraps errors returned by the narrator.
	ErrNarrationFailed = errors.New("narration failed")
)

// Config tunes ForecastService. Zero durations disable the matching feature.
type Config struct {
	Dataset         string
	TTL             time.Duration
	StaleTTL        time.Duration // stale fallback window; 0 disables it
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Zone            *time.Location
	Language        string
	Hours           int
}

// ForecastService fetches the forecast dataset through a cache-aside layer and
// runs the forecast pipeline over it.
type ForecastService struct {
	client          client.ForecastClient
	cache           cache.Cache
	narrator        llm.Narrator
	cfg             Config
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewForecastService wires a service. narrator may be nil.
func NewForecastService(c client.ForecastClient, ch cache.Cache, narrator llm.Narrator, cfg Config) *ForecastService {
	if cfg.Dataset == "" {
		cfg.Dataset = client.DefaultDataset
	}
	if cfg.Zone == nil {
		cfg.Zone = forecast.TaipeiZone
	}
	var coalescer *requestCoalescer
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	return &ForecastService{
		client:          c,
		cache:           ch,
		narrator:        narrator,
		cfg:             cfg,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// NarratorEnabled reports whether Narrate can succeed.
func (s *ForecastService) NarratorEnabled() bool { return s.narrator != nil }

// Document returns the forecast dataset, from cache when fresh, otherwise from
// upstream. If upstream fails and a stale copy is inside the stale window, the
// stale copy is returned with Stale set.
func (s *ForecastService) Document(ctx context.Context) (models.ForecastDocument, error) {
	key := s.cfg.Dataset
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.String("dataset", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		logger.Debug("cache hit", zap.String("dataset", key))
		return cached, nil
	}

	if n := s.stampedeTracker.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer s.stampedeTracker.RecordDone(key)

	logger.Debug("cache miss, fetching upstream", zap.String("dataset", key))
	doc, upstreamErr := s.fetch(ctx)
	if upstreamErr == nil {
		if setErr := s.cache.Set(ctx, key, doc, s.cfg.TTL); setErr != nil {
			logger.Warn("cache set failed", zap.String("dataset", key), zap.Error(setErr))
		}
		return doc, nil
	}

	if s.cfg.StaleTTL > 0 {
		stale, storedAt, ok, staleErr := s.cache.GetStale(ctx, key)
		if staleErr == nil && ok {
			age := time.Since(storedAt)
			observability.StaleCacheServesTotal.Inc()
			observability.StaleCacheAgeSeconds.Observe(age.Seconds())
			logger.Info("serving stale forecast", zap.String("dataset", key), zap.Duration("age", age), zap.Error(upstreamErr))
			stale.Stale = true
			return stale, nil
		}
	}
	logger.Warn("forecast upstream failed", zap.String("dataset", key), zap.String("category", string(client.CategorizeError(upstreamErr))), zap.Error(upstreamErr))
	return models.ForecastDocument{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, upstreamErr)
}

func (s *ForecastService) fetch(ctx context.Context) (models.ForecastDocument, error) {
	if s.coalescer == nil {
		return s.client.GetForecast(ctx)
	}
	doc, shared, err := s.coalescer.GetOrDo(ctx, s.cfg.Dataset, s.client.GetForecast)
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
	}
	return doc, err
}

// Refresh fetches the dataset from upstream and replaces the cached copy.
// It implements cache.DatasetRefresher.
func (s *ForecastService) Refresh(ctx context.Context) error {
	doc, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if err := s.cache.Set(ctx, s.cfg.Dataset, doc, s.cfg.TTL); err != nil {
		return fmt.Errorf("store refreshed forecast: %w", err)
	}
	return nil
}

// LocationNames lists the locations in the current dataset in document order.
func (s *ForecastService) LocationNames(ctx context.Context) ([]string, error) {
	doc, err := s.Document(ctx)
	if err != nil {
		return nil, err
	}
	return forecast.LocationNames(doc.Locations), nil
}

// Digest is a pipeline result plus the provenance of the document it came from.
type Digest struct {
	*forecast.Result
	FetchedAt time.Time
	Stale     bool
}

// Location returns the raw forecast record for name.
func (s *ForecastService) Location(ctx context.Context, name string) (models.Location, Digest, error) {
	doc, err := s.Document(ctx)
	if err != nil {
		return models.Location{}, Digest{}, err
	}
	observability.RecordForecastQuery(name)
	loc, err := forecast.ResolveLocation(doc.Locations, name)
	if err != nil {
		observability.RecordPipelineOutcome("resolve", string(forecast.CodeOf(err)))
		return models.Location{}, Digest{}, err
	}
	observability.RecordPipelineOutcome("resolve", "")
	return loc, Digest{FetchedAt: doc.FetchedAt, Stale: doc.Stale}, nil
}

// Digest runs the selected pipeline stages for name. Zone and prompt options
// left unset in opts fall back to the service configuration.
func (s *ForecastService) Digest(ctx context.Context, name string, opts forecast.Options) (Digest, error) {
	doc, err := s.Document(ctx)
	if err != nil {
		return Digest{}, err
	}
	observability.RecordForecastQuery(name)

	if opts.Zone == nil {
		opts.Zone = s.cfg.Zone
	}
	if opts.PromptOptions.Language == "" {
		opts.PromptOptions.Language = s.cfg.Language
	}
	if opts.PromptOptions.Hours == 0 {
		opts.PromptOptions.Hours = s.cfg.Hours
	}

	res, err := forecast.Run(doc, name, opts)
	if err != nil {
		observability.RecordPipelineOutcome("digest", string(forecast.CodeOf(err)))
		observability.LoggerFromContext(ctx).Info("forecast pipeline failed",
			zap.String("location", name), zap.String("code", string(forecast.CodeOf(err))), zap.Error(err))
		return Digest{}, err
	}
	observability.RecordPipelineOutcome("digest", "")
	for _, w := range res.Warnings {
		observability.RecordPipelineOutcome("warning", string(w.Code))
	}
	return Digest{Result: res, FetchedAt: doc.FetchedAt, Stale: doc.Stale}, nil
}

// Narration is a narrative plus the prompt that produced it.
type Narration struct {
	Digest
	Narrative *llm.Narrative
}

// Narrate builds the prompt for name and sends it to the configured narrator.
// Fields left unset in prompt fall back to the service configuration.
func (s *ForecastService) Narrate(ctx context.Context, name string, prompt forecast.PromptOptions) (Narration, error) {
	if s.narrator == nil {
		return Narration{}, ErrNarratorDisabled
	}
	d, err := s.Digest(ctx, name, forecast.Options{Prompt: true, PromptOptions: prompt})
	if err != nil {
		return Narration{}, err
	}
	n, err := s.narrator.Narrate(ctx, d.Prompt)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("narration failed", zap.String("provider", s.narrator.Name()), zap.Error(err))
		return Narration{}, fmt.Errorf("%w: %s: %w", ErrNarrationFailed, d.LocationName, err)
	}
	return Narration{Digest: d, Narrative: n}, nil
}
