package speech

import "context"

// Utterance is one request to the on-device speech engine.
type Utterance struct {
	Text string
	Lang string
	Rate float64
}

// Engine speaks an utterance and returns once it has finished. Cancelling
// ctx stops speech immediately.
type Engine interface {
	Speak(ctx context.Context, u Utterance) error
}
