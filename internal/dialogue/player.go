// Package dialogue prepares and plays a generated two-person dialogue turn
// by turn. Audio for every turn is resolved up front so playback can run
// with fixed pacing.
package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/audio"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
)

const DefaultPause = 600 * time.Millisecond

var (
	ErrNotReady = errors.New("dialogue: audio not ready")
	ErrBusy     = errors.New("dialogue: already playing")
)

// Resolver pre-fetches audio for one turn.
type Resolver interface {
	Resolve(ctx context.Context, text, voice string) (*audio.Clip, error)
}

// Speaker plays one line and returns once it has finished.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// Readiness is a snapshot of the player for display.
type Readiness struct {
	Total     int
	Loaded    int
	Ready     bool
	Preparing bool
	Playing   bool
	// Current is the index of the turn being spoken, or -1.
	Current int
}

type Player struct {
	resolver Resolver
	speaker  Speaker
	pause    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	turns     []protocol.Turn
	loaded    int
	preparing bool
	playing   bool
	current   int
	gen       uint64
}

type Option func(*Player)

func WithPause(d time.Duration) Option {
	return func(p *Player) {
		if d >= 0 {
			p.pause = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPlayer(resolver Resolver, speaker Speaker, opts ...Option) *Player {
	p := &Player{
		resolver: resolver,
		speaker:  speaker,
		pause:    DefaultPause,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		current:  -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "dialogue"))
	return p
}

// VoiceFor picks the synthesis voice for a speaker.
func VoiceFor(speaker string) string {
	if speaker == "Liz" {
		return protocol.VoiceWoman
	}
	return protocol.VoiceMan
}

// Load replaces the dialogue and resets readiness. A preparation still
// running for the previous dialogue stops counting.
func (p *Player) Load(turns []protocol.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append([]protocol.Turn(nil), turns...)
	p.loaded = 0
	p.preparing = false
	p.gen++
}

func (p *Player) Turns() []protocol.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Turn(nil), p.turns...)
}

// Prepare resolves audio for every turn in order. Failed turns still count
// as loaded so one bad line cannot hold the gate closed; their audio is
// resolved again when spoken. Calls while preparing or once ready are no-ops.
func (p *Player) Prepare(ctx context.Context) error {
	p.mu.Lock()
	if len(p.turns) == 0 || p.preparing || p.readyLocked() {
		p.mu.Unlock()
		return nil
	}
	p.preparing = true
	p.loaded = 0
	gen := p.gen
	turns := append([]protocol.Turn(nil), p.turns...)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.preparing = false
		}
		p.mu.Unlock()
	}()

	for i, turn := range turns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.resolver.Resolve(ctx, turn.En, VoiceFor(turn.Speaker)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("dialogue audio preparation failed for a turn",
				slog.Int("turn", i),
				slog.String("error", err.Error()))
		}
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return nil
		}
		p.loaded++
		p.mu.Unlock()
	}
	return nil
}

// PlayAll speaks every turn in order with a pause after each. It refuses to
// start unless audio is ready and nothing is already playing.
func (p *Player) PlayAll(ctx context.Context) error {
	p.mu.Lock()
	if !p.readyLocked() {
		p.mu.Unlock()
		return ErrNotReady
	}
	if p.playing {
		p.mu.Unlock()
		return ErrBusy
	}
	p.playing = true
	turns := append([]protocol.Turn(nil), p.turns...)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.current = -1
		p.mu.Unlock()
	}()

	for i, turn := range turns {
		p.mu.Lock()
		p.current = i
		p.mu.Unlock()

		if err := p.speaker.Speak(ctx, turn.En, VoiceFor(turn.Speaker)); err != nil {
			p.logger.Warn("dialogue playback stopped", slog.Int("turn", i), slog.String("error", err.Error()))
			return err
		}
		if err := sleep(ctx, p.pause); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) Readiness() Readiness {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Readiness{
		Total:     len(p.turns),
		Loaded:    p.loaded,
		Ready:     p.readyLocked(),
		Preparing: p.preparing,
		Playing:   p.playing,
		Current:   p.current,
	}
}

func (p *Player) readyLocked() bool {
	return len(p.turns) > 0 && p.loaded == len(p.turns)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
