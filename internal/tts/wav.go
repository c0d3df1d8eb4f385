package tts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const DefaultSampleRate = 24000

// EncodeWAV wraps raw signed 16-bit little endian PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, errors.New("tts: sample rate must be positive")
	}
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	var buf bytes.Buffer
	sw := &seekBuffer{buf: &buf}
	enc := wav.NewEncoder(sw, sampleRate, 16, channels, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: write pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("tts: close wav encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// seekBuffer makes a bytes.Buffer an io.WriteSeeker so the encoder can patch
// the header sizes on Close.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
	}
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = s.pos + int(offset)
	case io.SeekEnd:
		next = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 || next > s.buf.Len() {
		return 0, fmt.Errorf("seek: position %d out of range", next)
	}
	s.pos = next
	return int64(next), nil
}
