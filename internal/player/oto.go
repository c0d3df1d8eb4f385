package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/wav"
)

const DefaultSampleRate = 24000

var ErrStopped = errors.New("player: stopped")

type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
	logger     *slog.Logger

	mu      sync.Mutex
	active  *oto.Player
	stopped bool
}

// NewOtoPlayer opens the system audio device as mono 16-bit at sampleRate.
// oto allows a single context per process, so build one player and share it.
func NewOtoPlayer(sampleRate int, logger *slog.Logger) (*OtoPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	logger = logger.With(slog.String("component", "player"))
	logger.Debug("audio device ready", slog.Int("sample_rate", sampleRate))
	return &OtoPlayer{ctx: ctx, sampleRate: sampleRate, logger: logger}, nil
}

func (p *OtoPlayer) Play(ctx context.Context, data []byte, rate float64) error {
	pcm, err := decodeForDevice(data, p.sampleRate, rate)
	if err != nil {
		return err
	}

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	p.mu.Lock()
	p.active = player
	p.stopped = false
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.active == player {
			p.active = nil
		}
		p.mu.Unlock()
		_ = player.Close()
	}()

	player.Play()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	return nil
}

func (p *OtoPlayer) Stop() {
	p.mu.Lock()
	active := p.active
	p.stopped = active != nil
	p.mu.Unlock()
	if active != nil {
		active.Pause()
	}
}

// decodeForDevice turns a WAV payload into mono signed 16-bit little endian
// PCM at deviceRate, stretched by 1/rate.
func decodeForDevice(data []byte, deviceRate int, rate float64) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("player: invalid wav payload")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("player: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, errors.New("player: wav has no audio format")
	}
	mono := downmix(buf.Data, buf.Format.NumChannels, buf.SourceBitDepth)
	out := resample(mono, buf.Format.SampleRate, deviceRate, rate)
	return int16LE(out), nil
}
