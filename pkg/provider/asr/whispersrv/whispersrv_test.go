package whispersrv

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("fake-wav-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotFields map[string]string
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFields = make(map[string]string)
		for name, values := range r.MultipartForm.Value {
			gotFields[name] = values[0]
		}
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotFilename = fhs[0].Filename
		}
		fmt.Fprint(w, `{"text":" Structure fire at 123 Main.","duration":42.5}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithModel("base.en"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), writeAudio(t), "Wausaukee, Crivitz")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}

	if res.Text != " Structure fire at 123 Main." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Duration != 42.5 {
		t.Errorf("duration = %v, want 42.5", res.Duration)
	}
	if gotFilename != "call.wav" {
		t.Errorf("uploaded filename = %q, want call.wav", gotFilename)
	}

	wantFields := map[string]string{
		"language":        "en",
		"beam_size":       "5",
		"temperature":     "0.0",
		"temperature_inc": "0.2",
		"temperature_max": "0.6",
		"no_speech_thold": "0.6",
		"logprob_thold":   "-1",
		"entropy_thold":   "2.4",
		"no_context":      "true",
		"response_format": "verbose_json",
		"model":           "base.en",
		"prompt":          "Wausaukee, Crivitz",
	}
	for name, want := range wantFields {
		if gotFields[name] != want {
			t.Errorf("field %s = %q, want %q", name, gotFields[name], want)
		}
	}
}

func TestTranscribe_OptionalFieldsOmitted(t *testing.T) {
	t.Parallel()

	var gotFields map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFields = r.MultipartForm.Value
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), writeAudio(t), ""); err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}

	for _, name := range []string{"model", "prompt"} {
		if _, ok := gotFields[name]; ok {
			t.Errorf("field %s sent despite being unset", name)
		}
	}
}

func TestTranscribe_SegmentEndDurationFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Older server builds omit the duration field.
		fmt.Fprint(w, `{"text":"two segments","segments":[{"end":12.0},{"end":29.7}]}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), writeAudio(t), "")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if res.Duration != 29.7 {
		t.Errorf("duration = %v, want last segment end 29.7", res.Duration)
	}
}

func TestTranscribe_EmptyTextIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"text":"","duration":3.0}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), writeAudio(t), "")
	if err != nil {
		t.Fatalf("Transcribe() error: %v, want silence to succeed with empty text", err)
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty", res.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), writeAudio(t), ""); err == nil {
		t.Error("Transcribe() = nil error for HTTP 500")
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), "/does/not/exist.wav", ""); err == nil {
		t.Error("Transcribe() = nil error for a missing file")
	}
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New(\"\") = nil error")
	}
}
