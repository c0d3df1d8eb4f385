// Package playback owns the single "currently speaking" slot. Starting a new
// utterance always cancels the previous one first; speech never fails from
// the caller's point of view because remote audio falls back to the local
// speech engine.
package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/liks79/langbridge-liveloop-app/internal/audio"
	"github.com/liks79/langbridge-liveloop-app/internal/player"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
	"github.com/liks79/langbridge-liveloop-app/internal/speech"
)

type Source string

const (
	SourceNone   Source = ""
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

var ErrInvalidRate = errors.New("playback: rate must be 0.75 or 1.0")

// State is a snapshot of the playback slot.
type State struct {
	Speaking bool
	Text     string
	Source   Source
	Rate     float64
}

// Resolver turns text into a playable clip.
type Resolver interface {
	Resolve(ctx context.Context, text, voice string) (*audio.Clip, error)
}

type Controller struct {
	resolver Resolver
	player   player.Player
	local    speech.Engine
	logger   *slog.Logger
	observer func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	gen    uint64
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every state transition.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithRate(rate float64) Option {
	return func(c *Controller) {
		if validRate(rate) {
			c.state.Rate = rate
		}
	}
}

func New(resolver Resolver, p player.Player, local speech.Engine, opts ...Option) *Controller {
	c := &Controller{
		resolver: resolver,
		player:   p,
		local:    local,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:    State{Rate: 1.0},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "playback"))
	return c
}

// Speak plays text and returns when it has finished, fallen back, or been
// superseded by another Speak or Cancel. The only error it reports is the
// caller's own context ending.
func (c *Controller) Speak(ctx context.Context, text, voice string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	if c.state.Speaking && c.state.Text == text {
		c.mu.Unlock()
		return nil
	}
	c.stopLocked()
	playCtx, cancel := context.WithCancel(ctx)
	c.gen++
	gen := c.gen
	c.cancel = cancel
	rate := c.state.Rate
	source := SourceRemote
	if script.ContainsHangul(text) {
		source = SourceLocal
	}
	c.state = State{Speaking: true, Text: text, Source: source, Rate: rate}
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)

	if source == SourceLocal {
		c.speakLocal(playCtx, text, rate)
	} else {
		c.speakRemote(playCtx, gen, text, voice, rate)
	}
	c.finish(gen, cancel)
	return ctx.Err()
}

func (c *Controller) speakRemote(ctx context.Context, gen uint64, text, voice string, rate float64) {
	clip, err := c.resolver.Resolve(ctx, text, voice)
	if err == nil && clip == nil {
		err = errors.New("playback: empty clip")
	}
	if err == nil {
		err = c.player.Play(ctx, clip.WAV, rate)
		if err == nil {
			return
		}
	}
	if ctx.Err() != nil || errors.Is(err, player.ErrStopped) {
		return
	}

	c.logger.Warn("remote speech failed, falling back to local engine",
		slog.String("text", text),
		slog.String("error", err.Error()))
	if snapshot, ok := c.setSource(gen, SourceLocal); ok {
		c.notify(snapshot)
	}
	c.speakLocal(ctx, text, rate)
}

func (c *Controller) speakLocal(ctx context.Context, text string, rate float64) {
	err := c.local.Speak(ctx, speech.Utterance{Text: text, Lang: script.Lang(text), Rate: rate})
	if err != nil && ctx.Err() == nil {
		c.logger.Debug("local speech failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) setSource(gen uint64, source Source) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return State{}, false
	}
	c.state.Source = source
	return c.state, true
}

func (c *Controller) finish(gen uint64, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	c.state = State{Rate: c.state.Rate}
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

// stopLocked cancels whatever is playing without waiting for it to wind down.
func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state.Speaking && c.state.Source == SourceRemote {
		c.player.Stop()
	}
}

// Cancel stops current playback and returns the slot to idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	wasSpeaking := c.state.Speaking
	c.state = State{Rate: c.state.Rate}
	snapshot := c.state
	c.mu.Unlock()
	if wasSpeaking {
		c.notify(snapshot)
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetRate changes the rate used by the next utterance.
func (c *Controller) SetRate(rate float64) error {
	if !validRate(rate) {
		return ErrInvalidRate
	}
	c.mu.Lock()
	c.state.Rate = rate
	c.mu.Unlock()
	return nil
}

func (c *Controller) notify(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}

func validRate(rate float64) bool {
	return rate == 0.75 || rate == 1.0
}
