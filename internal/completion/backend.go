// Package completion sends assembled prompts to language-model backends and
// falls back across them in a configured order.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is one completion call. System carries the assembled prompt and
// Message the raw user input.
type Request struct {
	System      string  `json:"system"`
	Message     string  `json:"message"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	// Speaker is the name the reply is attributed to; an echoed "<Speaker>:"
	// prefix is stripped from the reply.
	Speaker string `json:"-"`
}

// Result is a normalized reply and the backend that produced it.
type Result struct {
	Text   string `json:"response"`
	Source string `json:"source"`
}

// Backend is a single completion service.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config controls backend construction.
type Config struct {
	// Order lists backend names by priority: local, anthropic, mock.
	Order           []string
	LocalURL        string
	LocalModel      string
	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string
	Timeout         time.Duration
	MaxRetries      int
}

// NewBackends builds the ordered backend list. The hosted backend is skipped
// when no API key is configured; an empty result is an error.
func NewBackends(cfg Config) ([]Backend, error) {
	var out []Backend
	for _, name := range cfg.Order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "local":
			if strings.TrimSpace(cfg.LocalURL) == "" {
				continue
			}
			out = append(out, NewHTTPBackend(cfg.LocalURL,
				WithModel(cfg.LocalModel),
				WithTimeout(cfg.Timeout),
				WithRetries(cfg.MaxRetries),
			))
		case "anthropic":
			if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
				continue
			}
			out = append(out, NewAnthropicBackend(AnthropicConfig{
				APIKey:     cfg.AnthropicAPIKey,
				Model:      cfg.AnthropicModel,
				BaseURL:    cfg.AnthropicURL,
				Timeout:    cfg.Timeout,
				MaxRetries: cfg.MaxRetries,
			}))
		case "mock":
			out = append(out, NewMockBackend())
		case "":
		default:
			return nil, fmt.Errorf("unsupported completion backend %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no completion backend configured")
	}
	return out, nil
}
