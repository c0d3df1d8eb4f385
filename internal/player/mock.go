package player

import (
	"context"
	"sync"
	"time"
)

// Play is one recorded call to MockPlayer.
type Play struct {
	Bytes int
	Rate  float64
}

// MockPlayer records plays and blocks for Duration without touching audio
// hardware. It is also used when playback is disabled.
type MockPlayer struct {
	Duration time.Duration
	Err      error

	mu    sync.Mutex
	plays []Play
	stops int
	stop  chan struct{}
}

func NewMockPlayer(d time.Duration) *MockPlayer {
	return &MockPlayer{Duration: d}
}

func (m *MockPlayer) Play(ctx context.Context, wav []byte, rate float64) error {
	stop := make(chan struct{})
	m.mu.Lock()
	m.plays = append(m.plays, Play{Bytes: len(wav), Rate: rate})
	m.stop = stop
	d, playErr := m.Duration, m.Err
	m.mu.Unlock()

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return ErrStopped
		case <-timer.C:
		}
	}
	return playErr
}

// SetDuration changes how long later plays last.
func (m *MockPlayer) SetDuration(d time.Duration) {
	m.mu.Lock()
	m.Duration = d
	m.mu.Unlock()
}

func (m *MockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *MockPlayer) Plays() []Play {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Play(nil), m.plays...)
}

func (m *MockPlayer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
