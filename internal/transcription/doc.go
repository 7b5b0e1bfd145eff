// Package transcription implements the HTTP client for the transcription API.
// It uploads complete recordings as multipart form data, implements retry
// logic with exponential backoff, and manages rate limiting.
package transcription
