package player

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/tts"
)

func TestResampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := resample(in, 24000, 24000, 1)
	if len(out) != len(in) {
		t.Fatalf("expected identity length, got %d", len(out))
	}
}

func TestResampleSlowsDownForLowerRate(t *testing.T) {
	in := make([]int16, 3000)
	out := resample(in, 24000, 24000, 0.75)
	if len(out) != 4000 {
		t.Fatalf("expected 4000 samples at 0.75x, got %d", len(out))
	}
}

func TestResampleChangesSampleRate(t *testing.T) {
	in := []int16{0, 100, 200, 300}
	out := resample(in, 12000, 24000, 1)
	if len(out) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(out))
	}
	if out[1] != 50 {
		t.Fatalf("expected interpolated 50, got %d", out[1])
	}
}

func TestDownmixAveragesChannels(t *testing.T) {
	out := downmix([]int{100, 300, -200, 200}, 2, 16)
	if len(out) != 2 || out[0] != 200 || out[1] != 0 {
		t.Fatalf("unexpected downmix %v", out)
	}
	if got := downmix([]int{1 << 16}, 1, 32); got[0] != 1 {
		t.Fatalf("expected 32-bit sample scaled down, got %v", got)
	}
}

func TestDecodeForDevice(t *testing.T) {
	pcm := make([]byte, 8)
	for i, v := range []int16{10, 20, 30, 40} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	data, err := tts.EncodeWAV(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeForDevice(data, 24000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(out))
	}
	if int16(binary.LittleEndian.Uint16(out[6:])) != 40 {
		t.Fatalf("unexpected last sample")
	}

	if _, err := decodeForDevice([]byte("not a wav"), 24000, 1); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestMockPlayerStop(t *testing.T) {
	m := NewMockPlayer(time.Second)
	errCh := make(chan error, 1)
	go func() { errCh <- m.Play(context.Background(), []byte("wav"), 0.75) }()
	deadline := time.Now().Add(time.Second)
	for len(m.Plays()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if plays := m.Plays(); len(plays) != 1 || plays[0].Rate != 0.75 {
		t.Fatalf("unexpected plays %+v", plays)
	}
}
