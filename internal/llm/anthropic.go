package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicNarrator narrates with the Anthropic Messages API.
type AnthropicNarrator struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	now       func() time.Time
}

// NewAnthropicNarrator builds a narrator from cfg. The SDK's own retries are disabled.
func NewAnthropicNarrator(cfg Config) (*AnthropicNarrator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: anthropic", ErrMissingAPIKey)
	}
	cfg = withDefaults(cfg, "claude-haiku-4-5")

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicNarrator{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
		now:       time.Now,
	}, nil
}

// Name implements Narrator.
func (n *AnthropicNarrator) Name() string { return ProviderAnthropic }

// Narrate implements Narrator.
func (n *AnthropicNarrator) Narrate(ctx context.Context, prompt string) (*Narrative, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     n.model,
		MaxTokens: n.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		err = fmt.Errorf("anthropic API error: %w", err)
		record(ProviderAnthropic, start, err)
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := cleanText(sb.String())
	if text == "" {
		record(ProviderAnthropic, start, ErrEmptyResponse)
		return nil, fmt.Errorf("%w from anthropic", ErrEmptyResponse)
	}
	record(ProviderAnthropic, start, nil)
	return &Narrative{
		Provider:    ProviderAnthropic,
		Model:       string(resp.Model),
		Text:        text,
		GeneratedAt: n.now(),
	}, nil
}
