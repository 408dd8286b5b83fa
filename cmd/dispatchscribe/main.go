// Command dispatchscribe watches a directory of emergency-dispatch radio
// recordings, transcribes them with whisper, corrects the text, records the
// result in a ledger, and pages responders via Pushover with optional
// Active911 alert enrichment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dispatchscribe/internal/active911"
	"github.com/MrWong99/dispatchscribe/internal/config"
	"github.com/MrWong99/dispatchscribe/internal/correct"
	"github.com/MrWong99/dispatchscribe/internal/correct/places"
	"github.com/MrWong99/dispatchscribe/internal/health"
	"github.com/MrWong99/dispatchscribe/internal/ledger"
	"github.com/MrWong99/dispatchscribe/internal/observe"
	"github.com/MrWong99/dispatchscribe/internal/pipeline"
	"github.com/MrWong99/dispatchscribe/internal/pushover"
	"github.com/MrWong99/dispatchscribe/internal/watch"
	"github.com/MrWong99/dispatchscribe/pkg/provider/asr"
	"github.com/MrWong99/dispatchscribe/pkg/provider/asr/whispercpp"
	"github.com/MrWong99/dispatchscribe/pkg/provider/asr/whispersrv"
)

// version is stamped by the build (-ldflags "-X main.version=…").
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultConfigPath, "path to the YAML configuration file")
	testRecipient := flag.String("test", "", "send notifications only to the named recipient (test mode)")
	flag.Parse()

	if v := os.Getenv("CONFIG_FILE"); v != "" {
		*configPath = v
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dispatchscribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dispatchscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	})))

	slog.Info("dispatchscribe starting",
		"version", version,
		"config", *configPath,
		"watch_dir", cfg.WatchDir,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider("dispatchscribe", version)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── File detector ─────────────────────────────────────────────────────────
	detector, err := watch.New(cfg.WatchDir, cfg.ProcessedDir)
	if err != nil {
		slog.Error("failed to prepare watch directories", "err", err)
		return 1
	}

	// ── Transcription engine ──────────────────────────────────────────────────
	provider, engineName, closeEngine, err := buildEngine(cfg)
	if err != nil {
		slog.Error("failed to initialise transcription engine", "err", err)
		return 1
	}
	defer closeEngine()
	slog.Info("transcription engine ready", "backend", engineName)

	// ── Ledger ────────────────────────────────────────────────────────────────
	store, closeStore, err := buildLedger(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise ledger", "err", err)
		return 1
	}
	defer closeStore()
	if err := store.EnsureInitialized(ctx); err != nil {
		slog.Error("failed to initialise ledger", "err", err)
		return 1
	}

	// ── Correction engine ─────────────────────────────────────────────────────
	var correctOpts []correct.Option
	if len(cfg.PlaceNames) > 0 {
		correctOpts = append(correctOpts, correct.WithPlaceMatcher(places.New(cfg.PlaceNames)))
	}
	correctOpts = append(correctOpts, correct.WithHeaderStripping(cfg.StripHeaders()))
	corrector := correct.New(cfg.ExactCorrections, correctOpts...)

	// ── Active911 enrichment ──────────────────────────────────────────────────
	var tokenOpts []active911.TokenOption
	if cfg.Active911.StaticToken != "" {
		tokenOpts = append(tokenOpts, active911.WithStaticToken(cfg.Active911.StaticToken))
	}
	tokens := active911.NewTokenSource(
		active911.NewCredentialStore(cfg.Active911.ConfigPath), tokenOpts...)
	alerts := active911.NewClient()

	// ── Notifications ─────────────────────────────────────────────────────────
	notifier, err := buildNotifier(cfg, *testRecipient)
	if err != nil {
		slog.Error("failed to initialise notifications", "err", err)
		return 1
	}

	runner := pipeline.New(pipeline.Params{
		Detector:      detector,
		Provider:      provider,
		Corrector:     corrector,
		Store:         store,
		Tokens:        tokens,
		Alerts:        alerts,
		AlertMinutes:  cfg.Active911.AlertMinutes,
		Notifier:      notifier,
		FailedDir:     cfg.FailedDir,
		Vocabulary:    cfg.PromptVocabulary,
		ReportHookURL: cfg.Active911.ReportHookURL,
		PollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
	})

	// ── Run ───────────────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg, store) })
	}

	slog.Info("dispatchscribe ready — press Ctrl+C to shut down")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildEngine selects the transcription backend: native whisper.cpp when the
// configured model file exists, otherwise the remote whisper-server. The
// returned close function releases the native model when applicable.
func buildEngine(cfg *config.Config) (asr.Provider, string, func(), error) {
	if cfg.Engine.ModelPath != "" {
		if _, err := os.Stat(cfg.Engine.ModelPath); err == nil {
			p, err := whispercpp.New(cfg.Engine.ModelPath)
			if err != nil {
				return nil, "", nil, fmt.Errorf("load model %q: %w", cfg.Engine.ModelPath, err)
			}
			return p, "whisper.cpp (native)", func() { p.Close() }, nil
		}
		slog.Warn("engine model file not found, trying remote backend",
			"model_path", cfg.Engine.ModelPath)
	}
	if cfg.Engine.ServerURL != "" {
		var opts []whispersrv.Option
		if cfg.Engine.Model != "" {
			opts = append(opts, whispersrv.WithModel(cfg.Engine.Model))
		}
		p, err := whispersrv.New(cfg.Engine.ServerURL, opts...)
		if err != nil {
			return nil, "", nil, err
		}
		return p, "whisper-server (remote)", func() {}, nil
	}
	return nil, "", nil, errors.New("no usable backend: engine.model_path missing and engine.server_url unset")
}

// buildLedger picks Postgres when a DSN is configured, CSV otherwise.
func buildLedger(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	if dsn := cfg.Ledger.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		slog.Info("ledger backend", "kind", "postgres")
		return ledger.NewPostgresStore(pool), pool.Close, nil
	}
	slog.Info("ledger backend", "kind", "csv", "path", cfg.Ledger.CSVPath)
	return ledger.NewCSVStore(cfg.Ledger.CSVPath), func() {}, nil
}

// buildNotifier constructs the Pushover notifier, applying the test-mode
// recipient filter. Returns nil when notifications are disabled.
func buildNotifier(cfg *config.Config, testRecipient string) (pipeline.Notifier, error) {
	if !cfg.Pushover.Enabled {
		return nil, nil
	}
	recipients := cfg.Pushover.Recipients()
	if testRecipient != "" {
		var filtered []config.Recipient
		for _, r := range recipients {
			if r.Name == testRecipient {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("test recipient %q not found in pushover.user_keys", testRecipient)
		}
		slog.Info("test mode: notifications restricted", "recipient", testRecipient)
		recipients = filtered
	}
	return pushover.New(cfg.Pushover.APIToken, recipients, cfg.Pushover.Priority), nil
}

// serveMetrics runs the /metrics and health HTTP server until ctx is done.
func serveMetrics(ctx context.Context, cfg *config.Config, store ledger.Store) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.DirWritable("watch_dir", cfg.WatchDir),
		health.DirWritable("processed_dir", cfg.ProcessedDir),
		health.Ledger(store),
	).Register(mux)

	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	}
}
