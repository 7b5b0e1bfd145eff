package audio

import (
	"math"
	"time"
)

// Buffer holds a decoded utterance as canonical mono PCM. Samples are
// float64 in [-1, 1] at a fixed sample rate. A Buffer is immutable once
// returned by the preprocessor; all downstream stages only read it.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// NumSamples returns the number of PCM samples in the buffer.
func (b *Buffer) NumSamples() int {
	return len(b.Samples)
}

// Duration returns the total duration of the buffered audio.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// RMS returns the root-mean-square amplitude over the whole buffer.
func (b *Buffer) RMS() float64 {
	return rms(b.Samples)
}

// SampleAt converts a time offset to the nearest sample index, clamped to
// the buffer bounds.
func (b *Buffer) SampleAt(offset time.Duration) int {
	idx := int(offset.Seconds() * float64(b.SampleRate))
	if idx < 0 {
		return 0
	}
	if idx > len(b.Samples) {
		return len(b.Samples)
	}
	return idx
}

// rms computes the root-mean-square amplitude of a sample slice.
// Returns 0 for an empty slice.
func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
