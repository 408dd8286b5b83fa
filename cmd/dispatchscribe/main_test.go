package main

import (
	"path/filepath"
	"testing"

	"github.com/MrWong99/dispatchscribe/internal/config"
	"github.com/MrWong99/dispatchscribe/internal/pushover"
)

func pushoverConfig() *config.Config {
	return &config.Config{
		Pushover: config.PushoverConfig{
			Enabled:  true,
			APIToken: "app-token",
			UserKeys: []config.Recipient{
				{Key: "key-1", Name: "duty-officer"},
				{Key: "key-2", Name: "chief"},
			},
		},
	}
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()

	t.Run("disabled returns nil", func(t *testing.T) {
		t.Parallel()
		cfg := pushoverConfig()
		cfg.Pushover.Enabled = false
		n, err := buildNotifier(cfg, "")
		if err != nil {
			t.Fatalf("buildNotifier() error: %v", err)
		}
		if n != nil {
			t.Errorf("buildNotifier() = %v, want nil", n)
		}
	})

	t.Run("no filter keeps all recipients", func(t *testing.T) {
		t.Parallel()
		n, err := buildNotifier(pushoverConfig(), "")
		if err != nil {
			t.Fatalf("buildNotifier() error: %v", err)
		}
		got := n.(*pushover.Notifier).Recipients()
		if len(got) != 2 {
			t.Errorf("recipients = %d, want 2", len(got))
		}
	})

	t.Run("test filter keeps only the named recipient", func(t *testing.T) {
		t.Parallel()
		n, err := buildNotifier(pushoverConfig(), "chief")
		if err != nil {
			t.Fatalf("buildNotifier() error: %v", err)
		}
		got := n.(*pushover.Notifier).Recipients()
		if len(got) != 1 || got[0].Key != "key-2" {
			t.Errorf("recipients = %+v, want only key-2", got)
		}
	})

	t.Run("unknown test recipient errors", func(t *testing.T) {
		t.Parallel()
		if _, err := buildNotifier(pushoverConfig(), "nobody"); err == nil {
			t.Error("buildNotifier() = nil error, want error for unknown recipient")
		}
	})
}

func TestBuildEngine(t *testing.T) {
	t.Parallel()

	t.Run("neither backend configured", func(t *testing.T) {
		t.Parallel()
		if _, _, _, err := buildEngine(&config.Config{}); err == nil {
			t.Error("buildEngine() = nil error, want no-usable-backend error")
		}
	})

	t.Run("server url selects remote backend", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Engine.ServerURL = "http://localhost:8080"
		_, name, closeFn, err := buildEngine(cfg)
		if err != nil {
			t.Fatalf("buildEngine() error: %v", err)
		}
		defer closeFn()
		if name != "whisper-server (remote)" {
			t.Errorf("backend = %q, want remote", name)
		}
	})

	t.Run("missing model file falls through to remote", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Engine.ModelPath = filepath.Join(t.TempDir(), "ggml-missing.bin")
		cfg.Engine.ServerURL = "http://localhost:8080"
		_, name, closeFn, err := buildEngine(cfg)
		if err != nil {
			t.Fatalf("buildEngine() error: %v", err)
		}
		defer closeFn()
		if name != "whisper-server (remote)" {
			t.Errorf("backend = %q, want remote fallback", name)
		}
	})

	t.Run("missing model file without remote errors", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Engine.ModelPath = filepath.Join(t.TempDir(), "ggml-missing.bin")
		if _, _, _, err := buildEngine(cfg); err == nil {
			t.Error("buildEngine() = nil error, want no-usable-backend error")
		}
	})
}
