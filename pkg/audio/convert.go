package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToFloat32 scales 16-bit PCM into [-1,1)
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// DownmixInterleaved averages interleaved channels into a mono signal
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// DecodeFloat32LE decodes raw little-endian float32 samples, the layout ffmpeg
// writes for -f f32le. Trailing partial samples are ignored.
func DecodeFloat32LE(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

// Clamp limits samples to [-1,1] in place
func Clamp(samples []float32) []float32 {
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
	return samples
}

// Resampler converts a continuous mono stream between sample rates using
// linear interpolation. It keeps its phase across calls.
type Resampler struct {
	from, to int
	step     float64
	pos      float64
	last     float32
}

// NewResampler creates a resampler from one rate to another
func NewResampler(from, to int) *Resampler {
	return &Resampler{from: from, to: to, step: float64(from) / float64(to)}
}

// Process resamples the next block of the stream
func (r *Resampler) Process(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	if r.from == r.to {
		return append([]float32(nil), in...)
	}

	sample := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	last := float64(len(in) - 1)
	for r.pos <= last {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		a := sample(i)
		b := a
		if i+1 < len(in) {
			b = sample(i + 1)
		}
		out = append(out, a+(b-a)*frac)
		r.pos += r.step
	}

	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}
