// Package llm turns a narration prompt into prose using a hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

// Narrative is the model's answer to one prompt.
type Narrative struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Narrator sends a prompt to a language model and returns the reply.
type Narrator interface {
	Narrate(ctx context.Context, prompt string) (*Narrative, error)
	Name() string
}

var (
	ErrEmptyPrompt   = errors.New("llm: empty prompt")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrMissingAPIKey = errors.New("llm: API key is required")
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// Config selects and tunes a provider. BaseURL is empty in production.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string
}

// New returns the narrator for cfg.Provider. An empty or "none" provider returns nil, nil.
func New(cfg Config) (Narrator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderNone:
		return nil, nil
	case ProviderAnthropic:
		return NewAnthropicNarrator(cfg)
	case ProviderOpenAI:
		return NewOpenAINarrator(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// cleanText strips a surrounding code fence and whitespace from a model reply.
func cleanText(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") && strings.HasSuffix(content, "```") && len(content) >= 6 {
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimPrefix(content, "```")
		if i := strings.IndexByte(content, '\n'); i >= 0 && !strings.ContainsAny(content[:i], " \t") {
			content = content[i+1:]
		}
	}
	return strings.TrimSpace(content)
}

func record(provider string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	observability.NarratorCallsTotal.WithLabelValues(provider, status).Inc()
	observability.NarratorDurationSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func withDefaults(cfg Config, model string) Config {
	if cfg.Model == "" {
		cfg.Model = model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}
