package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAINarrator narrates with the OpenAI Chat Completions API.
type OpenAINarrator struct {
	client    *openai.Client
	model     openai.ChatModel
	maxTokens int64
	timeout   time.Duration
	now       func() time.Time
}

// NewOpenAINarrator builds a narrator from cfg. The SDK's own retries are disabled.
func NewOpenAINarrator(cfg Config) (*OpenAINarrator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
	}
	cfg = withDefaults(cfg, string(openai.ChatModelGPT4oMini))

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAINarrator{
		client:    &client,
		model:     openai.ChatModel(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
		now:       time.Now,
	}, nil
}

// Name implements Narrator.
func (n *OpenAINarrator) Name() string { return ProviderOpenAI }

// Narrate implements Narrator.
func (n *OpenAINarrator) Narrate(ctx context.Context, prompt string) (*Narrative, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(n.maxTokens),
	})
	if err != nil {
		err = fmt.Errorf("openai API error: %w", err)
		record(ProviderOpenAI, start, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		record(ProviderOpenAI, start, ErrEmptyResponse)
		return nil, fmt.Errorf("%w from openai", ErrEmptyResponse)
	}

	text := cleanText(resp.Choices[0].Message.Content)
	if text == "" {
		record(ProviderOpenAI, start, ErrEmptyResponse)
		return nil, fmt.Errorf("%w from openai", ErrEmptyResponse)
	}
	record(ProviderOpenAI, start, nil)
	return &Narrative{
		Provider:    ProviderOpenAI,
		Model:       resp.Model,
		Text:        text,
		GeneratedAt: n.now(),
	}, nil
}
