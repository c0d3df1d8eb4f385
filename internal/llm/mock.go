package llm

import (
	"context"
	"sync"
)

// MockGenerator answers prompts through Respond and records every request.
type MockGenerator struct {
	Respond func(req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

func NewMockGenerator(respond func(req Request) (string, error)) *MockGenerator {
	return &MockGenerator{Respond: respond}
}

func (m *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.Respond == nil {
		return `{}`, nil
	}
	return m.Respond(req)
}

func (m *MockGenerator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
