// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber wraps a batch transcription engine (a local whisper-server,
// the whisper.cpp bindings, or the OpenAI audio API) behind a single
// file-in, text-out call. Implementations must be safe for concurrent use
// and must propagate context cancellation promptly.
package stt

import "context"

// Result is a completed transcription.
type Result struct {
	// Text is the full transcript with surrounding whitespace trimmed.
	Text string

	// Language is the language the backend detected or was configured with,
	// as a short code like "zh" or "en". Empty when the backend does not
	// report one.
	Language string
}

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe reads the audio file at path and returns its transcript.
	// Returns an error if the file cannot be read, the backend fails, or
	// ctx is cancelled.
	Transcribe(ctx context.Context, path string) (*Result, error)
}
