package speech

import (
	"context"
	"sync"
	"time"
)

// MockEngine records utterances and pretends to speak for Duration.
type MockEngine struct {
	Duration time.Duration
	Err      error

	mu         sync.Mutex
	utterances []Utterance
	canceled   int
}

func NewMockEngine(d time.Duration) *MockEngine {
	return &MockEngine{Duration: d}
}

func (m *MockEngine) Speak(ctx context.Context, u Utterance) error {
	m.mu.Lock()
	m.utterances = append(m.utterances, u)
	d, speakErr := m.Duration, m.Err
	m.mu.Unlock()

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.canceled++
			m.mu.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return speakErr
}

func (m *MockEngine) SetDuration(d time.Duration) {
	m.mu.Lock()
	m.Duration = d
	m.mu.Unlock()
}

func (m *MockEngine) Utterances() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.utterances...)
}

func (m *MockEngine) Canceled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}
