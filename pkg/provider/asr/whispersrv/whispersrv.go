// Package whispersrv provides an asr.Provider backed by a running
// whisper-server binary (whisper.cpp's REST frontend, POST /inference).
//
// Every recording is submitted as one multipart batch request. The request
// always carries the full set of decode guards — beam search, the temperature
// fallback ladder, the no-speech and log-probability thresholds, the
// entropy/compression ceiling, and conditioning on prior text disabled — so a
// degenerate pass over tone or silence cannot snowball into a transcript-long
// hallucination.
//
// Usage:
//
//	p, err := whispersrv.New("http://localhost:8080",
//	    whispersrv.WithModel("small.en"),
//	)
//	res, err := p.Transcribe(ctx, "/recordings/call1.wav", "Wausaukee, Amberg")
package whispersrv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MrWong99/dispatchscribe/pkg/provider/asr"
)

const (
	defaultLanguage = "en"

	// Decode guards, identical across both backends.
	beamSize             = 5
	temperatureStep      = 0.2 // ladder: 0.0, 0.2, 0.4, 0.6
	maxTemperature       = 0.6
	noSpeechThreshold    = 0.6
	logProbThreshold     = -1.0
	compressionThreshold = 2.4
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base.en", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client (60 s timeout). Intended
// for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements asr.Provider against a whisper-server instance.
// Safe for concurrent use; each Transcribe call is an independent request.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whispersrv: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the subset of the server's verbose JSON output the
// pipeline consumes. Duration is absent on older server builds; segment end
// timestamps serve as the fallback.
type inferenceResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		End float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns the raw transcript and audio
// duration. Any transport or decode failure is returned as an error; the
// caller decides whether the file is retried.
func (p *Provider) Transcribe(ctx context.Context, path, vocabularyHint string) (asr.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: read audio: %w", err)
	}

	fields := map[string]string{
		"language":        p.language,
		"beam_size":       strconv.Itoa(beamSize),
		"temperature":     "0.0",
		"temperature_inc": formatFloat(temperatureStep),
		"temperature_max": formatFloat(maxTemperature),
		"no_speech_thold": formatFloat(noSpeechThreshold),
		"logprob_thold":   formatFloat(logProbThreshold),
		"entropy_thold":   formatFloat(compressionThreshold),
		"no_context":      "true",
		"response_format": "verbose_json",
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if vocabularyHint != "" {
		fields["prompt"] = vocabularyHint
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return asr.Result{}, fmt.Errorf("whispersrv: write field %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("whispersrv: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return asr.Result{}, fmt.Errorf("whispersrv: parse JSON response: %w", err)
	}

	duration := result.Duration
	if duration == 0 && len(result.Segments) > 0 {
		duration = result.Segments[len(result.Segments)-1].End
	}

	return asr.Result{Text: result.Text, Duration: duration}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
