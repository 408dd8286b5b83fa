// Package asr defines the Provider interface for batch speech-to-text
// backends.
//
// An ASR provider wraps a transcription engine (the whisper.cpp CGO bindings
// or a remote whisper-server) and exposes a uniform whole-file call: one audio
// recording in, one raw transcript plus the audio duration out. Dispatch
// recordings are short, already fully written files, so there is no streaming
// session to manage — the pipeline processes one file at a time.
//
// Exactly one backend is selected at process start based on what is available
// (a local model file or a configured server URL); the rest of the system
// depends only on this interface.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Result is the outcome of transcribing a single recording.
type Result struct {
	// Text is the raw transcript exactly as produced by the engine, before
	// any correction pass. May be empty for genuinely silent audio.
	Text string

	// Duration is the length of the audio in seconds, as reported by the
	// engine or derived from the container. Zero when unknown.
	Duration float64
}

// Provider is the abstraction over any batch transcription backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe runs the engine over the audio file at path and returns the
	// raw transcript and audio duration.
	//
	// vocabularyHint is free text (place names, unit names, radio jargon)
	// used to bias recognition toward domain vocabulary. Backends that cannot
	// use a hint ignore it.
	//
	// Transcribe never silently swallows an engine failure: any transport,
	// decode, or inference error is returned to the caller. An empty Text
	// with a nil error means the engine genuinely heard nothing.
	Transcribe(ctx context.Context, path string, vocabularyHint string) (Result, error)
}
