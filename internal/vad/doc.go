// Package vad provides voice activity detection over canonical audio
// buffers. It classifies fixed-size analysis frames as speech or silence
// using short-time energy and zero-crossing rate, then merges frames into
// speech segments and pause intervals that together cover the recording.
package vad
