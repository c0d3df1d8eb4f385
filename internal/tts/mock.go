package tts

import (
	"context"
	"sync"
)

// MockSynth returns a short silent clip for every request.
type MockSynth struct {
	SampleRate int
	Err        error

	mu       sync.Mutex
	requests []SynthRequest
}

func NewMockSynth(sampleRate int) *MockSynth {
	return &MockSynth{SampleRate: sampleRate}
}

func (m *MockSynth) Synthesize(ctx context.Context, req SynthRequest) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	// 10ms of silence.
	data, err := EncodeWAV(make([]byte, rate/100*2), rate, 1)
	if err != nil {
		return nil, err
	}
	return &Audio{WAV: data, SampleRate: rate, Voice: req.Voice}, nil
}

func (m *MockSynth) Requests() []SynthRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthRequest(nil), m.requests...)
}
