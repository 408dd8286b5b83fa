// Package mock provides a test double for the asr package interfaces.
//
// Use Provider to feed controlled transcription results to the pipeline and
// to inspect which files were submitted for transcription.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dispatchscribe/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Path is the audio file path passed to Transcribe.
	Path string
	// Hint is the vocabulary hint passed to Transcribe.
	Hint string
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from every Transcribe call when ResultFn is nil.
	Result asr.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// ResultFn, if non-nil, computes the result per call from the file path.
	// It takes precedence over Result and Err.
	ResultFn func(path string) (asr.Result, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Compile-time interface check.
var _ asr.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, path, hint string) (asr.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Path: path, Hint: hint})
	fn := p.ResultFn
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(path)
	}
	return res, err
}
