package analysis

import "errors"

var (
	// ErrServiceBusy is returned when the concurrent analysis limit is
	// reached. Callers should retry later rather than queue.
	ErrServiceBusy = errors.New("analysis capacity exhausted")

	// ErrEmptyAudio is returned for requests with no audio payload.
	ErrEmptyAudio = errors.New("audio payload is empty")
)
