package player

import (
	"encoding/binary"
	"math"
)

// downmix averages interleaved channels into int16 range samples.
func downmix(samples []int, channels, bitDepth int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += scaleTo16(samples[i*channels+c], bitDepth)
		}
		out[i] = clamp16(sum / channels)
	}
	return out
}

func scaleTo16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned.
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	default:
		return v
	}
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// resample converts samples from srcRate to dstRate with linear
// interpolation. A rate below 1 produces proportionally more output, which
// slows playback down (and lowers pitch).
func resample(in []int16, srcRate, dstRate int, rate float64) []int16 {
	if rate <= 0 {
		rate = 1
	}
	if len(in) == 0 || srcRate <= 0 || dstRate <= 0 {
		return in
	}
	step := float64(srcRate) * rate / float64(dstRate)
	if step == 1 {
		return in
	}
	n := int(float64(len(in)) / step)
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		v := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

func int16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
