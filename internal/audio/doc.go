// Package audio handles decoding, normalization, and canonical buffering of
// recorded utterances. It converts WAV or raw PCM payloads into a mono
// float64 buffer at the service sample rate, applies amplitude normalization
// and a noise-floor gate, and encodes speech audio back to WAV for the
// transcription collaborator.
package audio
