// Package audio resolves (text, voice) pairs into playable WAV clips.
//
// Every network synthesis call passes through one FIFO queue, so exactly one
// call is outstanding at a time and consecutive calls are separated by a
// cooldown measured from the previous call's completion. Concurrent requests
// for the same key share one call, and successful clips are cached.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultCooldown         = time.Second
	DefaultPanicDelay       = 5 * time.Second
	DefaultRateLimitRetries = 2
	DefaultCacheEntries     = 512
)

var (
	ErrRateLimitExceeded = errors.New("audio: rate limit exceeded after retries")
	ErrSynthesis         = errors.New("audio: synthesis failed")
)

// SynthesisError wraps a non rate-limit failure of a synthesis call. It
// matches ErrSynthesis with errors.Is.
type SynthesisError struct {
	Key string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("audio: synthesize %q: %v", e.Key, e.Err)
}

func (e *SynthesisError) Unwrap() []error {
	return []error{ErrSynthesis, e.Err}
}

// Synthesizer performs one network synthesis call. A rate-limited answer is
// reported as an error implementing IsRateLimited() bool.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type SynthesizerFunc func(ctx context.Context, text, voice string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return f(ctx, text, voice)
}

// Clip is a resolved, playable audio payload.
type Clip struct {
	Key   string
	Text  string
	Voice string
	WAV   []byte
}

func (c *Clip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.WAV)
}

// Clock abstracts time for the cooldown and panic waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Key builds the cache key for an already trimmed text.
func Key(voice, text string) string {
	if voice == "" {
		return text
	}
	return voice + ":" + text
}

type call struct {
	done chan struct{}
	clip *Clip
	err  error
}

type Engine struct {
	synth            Synthesizer
	clock            Clock
	logger           *slog.Logger
	meter            metric.Meter
	cooldown         time.Duration
	panicDelay       time.Duration
	rateLimitRetries int
	cacheEntries     int

	mu       sync.Mutex
	cache    *lru.Cache[string, *Clip]
	inflight map[string]*call
	tail     chan struct{}
	last     time.Time

	metrics *metrics
}

type Option func(*Engine)

func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cooldown = d
		}
	}
}

func WithPanicDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.panicDelay = d
		}
	}
}

// WithRateLimitRetries sets how many extra attempts follow a rate-limited call.
func WithRateLimitRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.rateLimitRetries = n
		}
	}
}

func WithCacheEntries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cacheEntries = n
		}
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		if m != nil {
			e.meter = m
		}
	}
}

func NewEngine(synth Synthesizer, opts ...Option) (*Engine, error) {
	if synth == nil {
		return nil, errors.New("audio: synthesizer is required")
	}
	e := &Engine{
		synth:            synth,
		clock:            systemClock{},
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		cooldown:         DefaultCooldown,
		panicDelay:       DefaultPanicDelay,
		rateLimitRetries: DefaultRateLimitRetries,
		cacheEntries:     DefaultCacheEntries,
		inflight:         make(map[string]*call),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.meter == nil {
		e.meter = otel.Meter(telemetry.ScopeAudio)
	}
	cache, err := lru.New[string, *Clip](e.cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("audio: create cache: %w", err)
	}
	e.cache = cache
	e.metrics = newMetrics(e.meter)

	// The queue starts out already drained.
	e.tail = make(chan struct{})
	close(e.tail)
	return e, nil
}

// Resolve returns the clip for text spoken with voice. Blank text yields a
// nil clip and no network call. Cancelling ctx abandons the wait only; an
// admitted synthesis call still runs to completion and fills the cache.
func (e *Engine) Resolve(ctx context.Context, text, voice string) (*Clip, error) {
	clip, c := e.admit(ctx, text, voice)
	if c == nil {
		return clip, nil
	}
	select {
	case <-c.done:
		return c.clip, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetch warms the cache for text. It is fire-and-forget: the outcome is
// deliberately discarded and only logged, since nothing waits on it.
func (e *Engine) Prefetch(text, voice string) {
	_, c := e.admit(context.Background(), text, voice)
	if c == nil {
		return
	}
	go func() {
		<-c.done
		if c.err != nil {
			e.logger.Debug("audio prefetch failed",
				slog.String("text", text),
				slog.String("voice", voice),
				slogError(c.err))
		}
	}()
}

// admit returns either a finished clip (c == nil) or the pending call the
// caller should wait on. In-flight registration happens under the same lock
// as the cache lookup, so a key never gets two calls.
func (e *Engine) admit(ctx context.Context, text, voice string) (*Clip, *call) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	key := Key(voice, text)

	e.mu.Lock()
	if clip, ok := e.cache.Get(key); ok {
		e.mu.Unlock()
		e.metrics.cacheHits.Add(ctx, 1)
		return clip, nil
	}
	if c, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		e.metrics.inflightJoins.Add(ctx, 1)
		return nil, c
	}
	c := &call{done: make(chan struct{})}
	e.inflight[key] = c
	prev := e.tail
	next := make(chan struct{})
	e.tail = next
	e.mu.Unlock()

	go e.run(context.WithoutCancel(ctx), key, text, voice, c, prev, next)
	return nil, c
}

// run owns one queue slot. It waits for its predecessor, performs the call
// and always releases the slot, whatever the outcome.
func (e *Engine) run(ctx context.Context, key, text, voice string, c *call, prev <-chan struct{}, next chan struct{}) {
	defer close(next)
	<-prev

	clip, err := e.synthesize(ctx, key, text, voice)

	e.mu.Lock()
	if err == nil {
		e.cache.Add(key, clip)
	}
	delete(e.inflight, key)
	e.mu.Unlock()

	c.clip, c.err = clip, err
	close(c.done)
}

func (e *Engine) synthesize(ctx context.Context, key, text, voice string) (*Clip, error) {
	for attempt := 0; ; attempt++ {
		if err := e.waitCooldown(ctx); err != nil {
			return nil, err
		}
		e.metrics.synthCalls.Add(ctx, 1)
		data, err := e.synth.Synthesize(ctx, text, voice)
		e.markCompleted()

		if err == nil {
			return &Clip{Key: key, Text: text, Voice: voice, WAV: data}, nil
		}
		if !isRateLimited(err) {
			e.metrics.failures.Add(ctx, 1)
			return nil, &SynthesisError{Key: key, Err: err}
		}

		e.metrics.rateLimited.Add(ctx, 1)
		e.logger.Warn("synthesis rate limited, entering panic delay",
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", e.panicDelay))
		if err := e.clock.Sleep(ctx, e.panicDelay); err != nil {
			return nil, err
		}
		if attempt >= e.rateLimitRetries {
			e.metrics.failures.Add(ctx, 1)
			return nil, ErrRateLimitExceeded
		}
	}
}

func (e *Engine) waitCooldown(ctx context.Context) error {
	e.mu.Lock()
	last := e.last
	e.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	wait := e.cooldown - e.clock.Now().Sub(last)
	if wait <= 0 {
		return nil
	}
	return e.clock.Sleep(ctx, wait)
}

func (e *Engine) markCompleted() {
	e.mu.Lock()
	e.last = e.clock.Now()
	e.mu.Unlock()
}

func isRateLimited(err error) bool {
	var rl interface{ IsRateLimited() bool }
	return errors.As(err, &rl) && rl.IsRateLimited()
}

// Stats describes the current cache contents.
type Stats struct {
	Entries  int
	Bytes    int
	InFlight int
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Entries: e.cache.Len(), InFlight: len(e.inflight)}
	for _, clip := range e.cache.Values() {
		s.Bytes += clip.Size()
	}
	return s
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
