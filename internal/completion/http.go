package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/taleweaver/internal/reliability"
)

const (
	retryBase = 250 * time.Millisecond
	retryCap  = 2 * time.Second
)

// HTTPBackend posts prompts to a local completion server speaking the
// {"system","message"} -> {"response"} contract.
type HTTPBackend struct {
	name    string
	url     string
	model   string
	retries int
	client  *http.Client
}

type HTTPOption func(*HTTPBackend)

func WithModel(model string) HTTPOption {
	return func(b *HTTPBackend) { b.model = strings.TrimSpace(model) }
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

func WithRetries(n int) HTTPOption {
	return func(b *HTTPBackend) {
		if n > 0 {
			b.retries = n
		}
	}
}

// WithName overrides the backend name reported as the reply source.
func WithName(name string) HTTPOption {
	return func(b *HTTPBackend) { b.name = name }
}

func NewHTTPBackend(url string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		name: "local",
		url:  strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *HTTPBackend) Name() string { return b.name }

type httpRequest struct {
	System      string  `json:"system"`
	Message     string  `json:"message"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Model       string  `json:"model,omitempty"`
}

type httpResponse struct {
	Response *string `json:"response"`
}

func (b *HTTPBackend) Complete(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(httpRequest{
		System:      req.System,
		Message:     req.Message,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Model:       b.model,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = reliability.Retry(ctx, b.retries, retryBase, retryCap, func(ctx context.Context) error {
		text, err = b.post(ctx, payload)
		return err
	})
	return text, err
}

func (b *HTTPBackend) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &reliability.StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Response == nil {
		return "", errors.New("response field missing")
	}
	return *out.Response, nil
}
