package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	CWAAPIKey          string `validate:"required"`
	CWAAPIURL          string `validate:"required,url"`
	Dataset            string `validate:"required"`
	CWAAPITimeout      time.Duration
	InsecureSkipVerify bool

	RequestTimeout    time.Duration
	LocationMaxLength int `validate:"gte=1"`

	CacheBackend  string `validate:"oneof=in_memory memcached redis"`
	CacheTTL      time.Duration
	StaleCacheTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisURL              string

	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int `validate:"gte=1"`
	CircuitBreakerSuccessThreshold int `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	Locations       []string
	DefaultLocation string
	UTCOffsetHours  int `validate:"gte=-12,lte=14"`
	Language        string
	PromptHours     int `validate:"gte=1,lte=36"`

	RefreshEnabled  bool
	RefreshInterval time.Duration

	NarratorProvider  string `validate:"omitempty,oneof=none anthropic openai"`
	NarratorModel     string
	NarratorMaxTokens int `validate:"gte=1"`
	NarratorTimeout   time.Duration
	NarratorAPIKey    string

	CORSAllowedOrigins []string

	HealthWindow     time.Duration
	DegradedErrorPct int `validate:"gte=1,lte=100"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL                string `yaml:"url"`
		Dataset            string `yaml:"dataset"`
		Timeout            string `yaml:"timeout"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout           string `yaml:"timeout"`
		LocationMaxLength int    `yaml:"location_max_length"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Forecast struct {
		Locations       []string `yaml:"locations"`
		DefaultLocation string   `yaml:"default_location"`
		UTCOffsetHours  *int     `yaml:"utc_offset_hours"`
		Language        string   `yaml:"language"`
		PromptHours     int      `yaml:"prompt_hours"`
	} `yaml:"forecast"`

	Refresh struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`

	Narrator struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"narrator"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	CWAAPIKey       string `yaml:"cwa_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

// DefaultCWAAPIURL is the CWA open-data datastore root.
const DefaultCWAAPIURL = "https://opendata.cwa.gov.tw/api/v1/rest/datastore"

var validate = validator.New()

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is applied first and never overrides variables
// already set. API keys come from the environment or the secrets file. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := fromFile(fc)

	cfg.CWAAPIKey = firstNonEmpty(os.Getenv("CWA_API_KEY"), sec.CWAAPIKey)
	if cfg.CWAAPIKey == "" {
		return nil, fmt.Errorf("CWA_API_KEY required (set env or config/secrets.yaml cwa_api_key)")
	}
	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), cfg.CacheBackend, "in_memory"))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), cfg.MemcachedAddrs, "localhost:11211")
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), cfg.RedisURL, "redis://localhost:6379/0")
	cfg.NarratorProvider = strings.ToLower(firstNonEmpty(os.Getenv("NARRATOR_PROVIDER"), cfg.NarratorProvider, "none"))
	switch cfg.NarratorProvider {
	case "anthropic":
		cfg.NarratorAPIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), sec.AnthropicAPIKey)
	case "openai":
		cfg.NarratorAPIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), sec.OpenAIAPIKey)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// fromFile applies defaults to the YAML values.
func fromFile(fc fileConfig) *Config {
	cfg := &Config{
		ServerPort:         firstNonEmpty(strings.TrimSpace(fc.Server.Port), "8080"),
		CWAAPIURL:          firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.URL), DefaultCWAAPIURL),
		Dataset:            firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.Dataset), "F-C0032-001"),
		CWAAPITimeout:      parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second),
		InsecureSkipVerify: fc.WeatherAPI.InsecureSkipVerify,

		RequestTimeout:    parseDuration(fc.Request.Timeout, 10*time.Second),
		LocationMaxLength: intOrDefault(fc.Request.LocationMaxLength, 32),

		CacheBackend:  strings.TrimSpace(fc.Cache.Backend),
		CacheTTL:      parseDuration(fc.Cache.TTL, 10*time.Minute),
		StaleCacheTTL: parseDurationOrZero(fc.Cache.StaleTTL, 6*time.Hour),

		MemcachedAddrs:        strings.TrimSpace(fc.Cache.Memcached.Addrs),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: intOrDefault(fc.Cache.Memcached.MaxIdleConns, 2),
		RedisURL:              strings.TrimSpace(fc.Cache.Redis.URL),

		RateLimitRPS:   intOrDefault(fc.Reliability.RateLimitRPS, 20),
		RateLimitBurst: intOrDefault(fc.Reliability.RateLimitBurst, 40),

		CircuitBreakerEnabled:          boolOrDefault(fc.Reliability.CircuitBreaker.Enabled, true),
		CircuitBreakerFailureThreshold: intOrDefault(fc.Reliability.CircuitBreaker.FailureThreshold, 5),
		CircuitBreakerSuccessThreshold: intOrDefault(fc.Reliability.CircuitBreaker.SuccessThreshold, 1),
		CircuitBreakerTimeout:          parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second),

		CoalesceEnabled: boolOrDefault(fc.Reliability.Coalesce.Enabled, true),
		CoalesceTimeout: parseDuration(fc.Reliability.Coalesce.Timeout, 10*time.Second),

		ShutdownTimeout:         parseDuration(fc.Shutdown.Timeout, 15*time.Second),
		ShutdownInFlightTimeout: parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second),

		Locations:       trimAll(fc.Forecast.Locations),
		DefaultLocation: strings.TrimSpace(fc.Forecast.DefaultLocation),
		UTCOffsetHours:  8,
		Language:        strings.TrimSpace(fc.Forecast.Language),
		PromptHours:     intOrDefault(fc.Forecast.PromptHours, 12),

		RefreshEnabled:  fc.Refresh.Enabled,
		RefreshInterval: parseDuration(fc.Refresh.Interval, 30*time.Minute),

		NarratorProvider:  strings.TrimSpace(fc.Narrator.Provider),
		NarratorModel:     strings.TrimSpace(fc.Narrator.Model),
		NarratorMaxTokens: intOrDefault(fc.Narrator.MaxTokens, 1024),
		NarratorTimeout:   parseDuration(fc.Narrator.Timeout, 30*time.Second),

		CORSAllowedOrigins: trimAll(fc.CORS.AllowedOrigins),

		HealthWindow:     parseDuration(fc.Health.Window, time.Minute),
		DegradedErrorPct: intOrDefault(fc.Health.DegradedErrorPct, 20),
	}
	if fc.Forecast.UTCOffsetHours != nil {
		cfg.UTCOffsetHours = *fc.Forecast.UTCOffsetHours
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = []string{"臺北市", "臺中市", "高雄市"}
	}
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = cfg.Locations[0]
	}
	return cfg
}

// Zone returns the fixed offset used to interpret forecast timestamps.
func (c *Config) Zone() *time.Location {
	if c.UTCOffsetHours == 8 {
		return time.FixedZone("Asia/Taipei", 8*60*60)
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.UTCOffsetHours), c.UTCOffsetHours*60*60)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validateConfig checks struct tags, then cross-field rules. RequestTimeout is
// raised above CWAAPITimeout when needed.
func validateConfig(cfg *Config) error {
	if cfg.CWAAPITimeout <= 0 {
		return fmt.Errorf("CWA_API_TIMEOUT must be positive")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %s (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.RequestTimeout <= cfg.CWAAPITimeout {
		cfg.RequestTimeout = cfg.CWAAPITimeout + time.Second
	}
	if cfg.NarratorProvider != "none" && cfg.NarratorAPIKey == "" {
		return fmt.Errorf("narrator.provider %s requires an API key", cfg.NarratorProvider)
	}
	return nil
}
