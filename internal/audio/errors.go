package audio

import (
	"fmt"
	"time"
)

// DecodeError indicates the audio payload could not be decoded. It is fatal:
// the caller must submit a new recording.
type DecodeError struct {
	Encoding string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s audio: %s", e.Encoding, e.Reason)
}

// InsufficientAudioError indicates the recording is too short or contains
// only silence, so there is nothing to analyze. It is fatal: the caller
// should re-record.
type InsufficientAudioError struct {
	Duration time.Duration
	RMS      float64
	Reason   string
}

func (e *InsufficientAudioError) Error() string {
	return fmt.Sprintf("insufficient audio (duration=%.3fs, rms=%.5f): %s",
		e.Duration.Seconds(), e.RMS, e.Reason)
}
