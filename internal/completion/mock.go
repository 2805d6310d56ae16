package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockBackend replies deterministically; used for local runs without a model.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	base := strings.TrimSpace(req.Message)
	if base == "" {
		return "*looks around, waiting for someone to speak*", nil
	}
	return fmt.Sprintf("I heard you: %s", base), nil
}
