// Package analysis orchestrates the voice analysis pipeline: audio
// preprocessing, voice activity detection, acoustic feature extraction,
// tone and emotion classification, speech metrics, and transcription.
// The transcription branch runs concurrently with the signal branch and
// its failure degrades the result instead of failing the request.
package analysis
