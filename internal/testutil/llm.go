package testutil

import (
	"context"
	"sync"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/llm"
)

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	GenerateJSONFunc func(ctx context.Context, req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

// GenerateJSON records the request and delegates to GenerateJSONFunc
func (m *MockLLMClient) GenerateJSON(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, req)
	}
	return "{}", nil
}

// GetModel returns a fixed model name
func (m *MockLLMClient) GetModel(tier llm.ModelTier) string {
	return "mock-" + string(tier)
}

// Close does nothing
func (m *MockLLMClient) Close() error {
	return nil
}

// Requests returns a copy of every request received so far
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}
