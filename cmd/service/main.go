package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-digest-service/internal/cache"
	"github.com/kjstillabower/forecast-digest-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-digest-service/internal/client"
	"github.com/kjstillabower/forecast-digest-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-digest-service/internal/http"
	"github.com/kjstillabower/forecast-digest-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-digest-service/internal/llm"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
	"github.com/kjstillabower/forecast-digest-service/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	forecastClient, err := client.NewCWAClient(cfg.CWAAPIKey, cfg.CWAAPIURL, client.Options{
		Dataset:            cfg.Dataset,
		Timeout:            cfg.CWAAPITimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	if cb := newCircuitBreaker(cfg, logger); cb != nil {
		forecastClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	validateCtx, validateCancel := context.WithTimeout(context.Background(), cfg.CWAAPITimeout)
	if err := forecastClient.ValidateAPIKey(validateCtx); err != nil {
		logger.Warn("CWA API key check failed", zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
	}
	validateCancel()

	cacheSvc, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	narrator, err := llm.New(llm.Config{
		Provider:  cfg.NarratorProvider,
		APIKey:    cfg.NarratorAPIKey,
		Model:     cfg.NarratorModel,
		MaxTokens: cfg.NarratorMaxTokens,
		Timeout:   cfg.NarratorTimeout,
	})
	if err != nil {
		logger.Fatal("narrator", zap.Error(err))
	}
	if narrator != nil {
		logger.Info("narrator enabled", zap.String("provider", narrator.Name()))
	}

	forecastService := service.NewForecastService(forecastClient, cacheSvc, narrator, service.Config{
		Dataset:         cfg.Dataset,
		TTL:             cfg.CacheTTL,
		StaleTTL:        cfg.StaleCacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Zone:            cfg.Zone(),
		Language:        cfg.Language,
		Hours:           cfg.PromptHours,
	})

	observability.SetTrackedLocations(cfg.Locations)

	var warmer *cache.CacheWarmer
	if cfg.RefreshEnabled {
		warmer = cache.NewCacheWarmer(forecastService, logger, cfg.CWAAPITimeout*2)
		if err := warmer.Start(context.Background(), cfg.RefreshInterval); err != nil {
			logger.Error("refresh scheduler", zap.Error(err))
		}
	}

	limiter := newLimiter(cfg)
	handler := httphandler.NewHandler(forecastService, httphandler.HandlerConfig{
		Locations:         cfg.Locations,
		DefaultLocation:   cfg.DefaultLocation,
		LocationMaxLength: cfg.LocationMaxLength,
	}, &httphandler.HealthConfig{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		MinRequests:      5,
		Version:          version,
		CachePing:        cacheSvc.Ping,
	}, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		Limiter:            limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + cfg.NarratorTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.PhaseReady)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	if warmer != nil {
		warmer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := cacheSvc.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newCircuitBreaker returns the breaker for the forecast API, or nil when disabled.
func newCircuitBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	observability.CircuitBreakerState.WithLabelValues("forecast_api").Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        "forecast_api",
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker transition", zap.String("component", component), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// newCache builds the configured cache backend. Unknown backends are rejected by config validation.
func newCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		return cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
	case "redis":
		return cache.NewRedisCache(cfg.RedisURL, cfg.StaleCacheTTL)
	default:
		return cache.NewInMemoryCache(cfg.StaleCacheTTL), nil
	}
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}
