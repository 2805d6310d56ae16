package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ent0n29/taleweaver/internal/reliability"
)

const defaultAnthropicMaxTokens = 400

type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicBackend calls the hosted Messages API.
type AnthropicBackend struct {
	client  anthropic.Client
	model   string
	retries int
}

func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are driven by reliability.Retry so they follow the same
		// policy as the local backend.
		option.WithMaxRetries(0),
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicBackend{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		retries: cfg.MaxRetries,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "(continue the scene)"
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}

	var text string
	err := reliability.Retry(ctx, b.retries, retryBase, retryCap, func(ctx context.Context) error {
		resp, err := b.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return fmt.Errorf("anthropic: %w", &reliability.StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()})
			}
			return fmt.Errorf("anthropic: %w", err)
		}
		var out strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				out.WriteString(block.Text)
			}
		}
		text = out.String()
		return nil
	})
	return text, err
}
