package tts

import (
	"context"
	"errors"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// Audio is a synthesized clip encoded as WAV.
type Audio struct {
	WAV        []byte
	SampleRate int
	Voice      string
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (*Audio, error)
}

var ErrNoAudio = errors.New("tts: no audio data from upstream")
