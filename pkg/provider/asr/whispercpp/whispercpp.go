// Package whispercpp provides an asr.Provider backed by the whisper.cpp CGO
// bindings, eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all transcriptions; each call gets a fresh
// whisper context because contexts are not safe for reuse across goroutines.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables.
//
// This backend reads 16-bit PCM WAV files directly. Recordings in other
// containers (mp3, m4a, flac) are handled by the remote whisper-server
// backend, which is why backend selection is a startup capability decision
// rather than a per-call branch.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/dispatchscribe/pkg/provider/asr"
)

const (
	defaultLanguage = "en"

	// whisper.cpp consumes 16 kHz mono float32 samples.
	modelSampleRate = 16000

	// Decode guards, identical across both backends.
	beamSize             = 5
	temperatureStep      = 0.2
	compressionThreshold = 2.4
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements asr.Provider using the whisper.cpp Go bindings.
type Provider struct {
	model    whisperlib.Model
	language string
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV file at path, runs whisper.cpp inference, and
// returns the concatenated segment text plus the audio duration derived from
// the WAV frame count.
func (p *Provider) Transcribe(ctx context.Context, path, vocabularyHint string) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispercpp: read audio: %w", err)
	}

	samples, duration, err := decodeWAV(data)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispercpp: decode %q: %w", path, err)
	}

	// Each inference gets its own whisper context. Contexts are NOT
	// thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispercpp: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using default", "language", p.language, "error", err)
	}
	wctx.SetBeamSize(beamSize)
	wctx.SetTemperature(0)
	wctx.SetTemperatureFallback(temperatureStep)
	wctx.SetEntropyThold(compressionThreshold)
	// A zero text context prevents the engine from conditioning on prior
	// segments, which is how one hallucinated segment propagates.
	wctx.SetMaxContext(0)
	if vocabularyHint != "" {
		wctx.SetInitialPrompt(vocabularyHint)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return asr.Result{Text: strings.Join(parts, " "), Duration: duration}, nil
}
