// Package httpretry wraps a single outbound HTTP request with rate-limit
// aware exponential backoff. Only 429 responses are retried; everything else
// is handed back to the caller untouched.
package httpretry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
)

// RequestFunc issues one attempt. It is called again for every retry, so it
// must build a fresh request each time.
type RequestFunc func(ctx context.Context) (*http.Response, error)

type options struct {
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

type Option func(*options)

func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithBaseDelay sets the wait before the first retry; later waits double.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

var errRateLimited = errors.New("rate limited")

// Do issues fn and retries while the response status is 429, waiting
// base*2^attempt between attempts with no jitter. When retries run out the
// final 429 response is returned with a nil error and the caller must check
// the status. Transport errors from fn are returned immediately.
func Do(ctx context.Context, fn RequestFunc, opts ...Option) (*http.Response, error) {
	o := options{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var limited *http.Response
	attempt := 0
	operation := func() (*http.Response, error) {
		if limited != nil {
			discard(limited)
			limited = nil
		}
		attempt++
		resp, err := fn(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		limited = resp
		return nil, errRateLimited
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(Schedule(o.baseDelay)),
		backoff.WithMaxTries(uint(o.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			o.logger.Debug("rate limited, backing off",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait))
		}),
	)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, errRateLimited) && limited != nil {
		return limited, nil
	}
	if limited != nil {
		discard(limited)
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return nil, permanent.Err
	}
	return nil, err
}

// Schedule returns the deterministic backoff used between attempts:
// base, 2*base, 4*base and so on.
func Schedule(base time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base * 64
	b.Reset()
	return b
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
