// Package player plays WAV clips on the local audio device.
package player

import "context"

// Player plays one clip at a time. Play blocks until the clip ends, ctx is
// cancelled or Stop is called.
type Player interface {
	Play(ctx context.Context, wav []byte, rate float64) error
	Stop()
}
