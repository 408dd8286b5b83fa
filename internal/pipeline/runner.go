// Package pipeline contains the single-threaded processing loop that ties
// the pipeline together: discover stable recordings, transcribe, correct,
// record in the ledger, enrich with alert details, notify, and commit by
// moving the recording into the processed directory.
//
// The loop is deliberately sequential. Recordings arrive at radio pace, and
// processing order then matches arrival order without any coordination.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dispatchscribe/internal/active911"
	"github.com/MrWong99/dispatchscribe/internal/correct"
	"github.com/MrWong99/dispatchscribe/internal/ledger"
	"github.com/MrWong99/dispatchscribe/internal/observe"
	"github.com/MrWong99/dispatchscribe/internal/pushover"
	"github.com/MrWong99/dispatchscribe/internal/resilience"
	"github.com/MrWong99/dispatchscribe/internal/watch"
	"github.com/MrWong99/dispatchscribe/pkg/provider/asr"
)

// notificationTitle is the Pushover title for every dispatch page.
const notificationTitle = "🚑 WRS Page"

// maxAttempts is the per-file transcription retry budget. A file that fails
// this many times is quarantined into the failed directory so one corrupt
// recording cannot wedge the loop forever.
const maxAttempts = 3

// reportHookTimeout bounds the fire-and-forget report hook POST.
const reportHookTimeout = 5 * time.Second

// TokenSource yields a valid Active911 access token.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// AlertFetcher retrieves the most recent alert inside a time window.
type AlertFetcher interface {
	FetchMostRecentAlert(ctx context.Context, token string, windowMinutes int) (*active911.Alert, error)
}

// Notifier fans a message out to all configured recipients and reports
// whether every delivery succeeded.
type Notifier interface {
	Send(ctx context.Context, title, message string) bool
}

// Params bundles the dependencies of a [Runner]. Detector, Provider,
// Corrector and Store are required; the rest are optional and disable their
// feature when nil or empty.
type Params struct {
	Detector  *watch.Detector
	Provider  asr.Provider
	Corrector *correct.Corrector
	Store     ledger.Store

	// Tokens and Alerts enable alert enrichment when both are set.
	Tokens       TokenSource
	Alerts       AlertFetcher
	AlertMinutes int

	// Notifier enables Pushover notification when set.
	Notifier Notifier

	// FailedDir receives recordings that exhaust their retry budget.
	FailedDir string

	// Vocabulary is passed to the engine as a transcription hint.
	Vocabulary string

	// ReportHookURL, when set, receives a fire-and-forget JSON POST after
	// every committed recording.
	ReportHookURL string

	PollInterval time.Duration

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Runner drives the poll loop. Create with [New]; not safe for concurrent
// Run calls.
type Runner struct {
	detector  *watch.Detector
	provider  asr.Provider
	corrector *correct.Corrector
	store     ledger.Store

	tokens       TokenSource
	alerts       AlertFetcher
	alertMinutes int
	breaker      *resilience.Breaker

	notifier      Notifier
	failedDir     string
	vocabulary    string
	reportHookURL string
	pollInterval  time.Duration

	metrics    *observe.Metrics
	httpClient *http.Client

	// failures tracks consecutive transcription errors per filename.
	// In-memory only: a restart resets the budget, which is fine because
	// quarantine exists to protect the loop, not to be an exact count.
	failures  map[string]int
	processed int
}

// New creates a [Runner] from params.
func New(p Params) *Runner {
	m := p.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	// A missing refresh token is a configuration state, not an upstream
	// outage; it must never open the breaker.
	notConfigured := func(err error) bool { return errors.Is(err, active911.ErrNotConfigured) }
	return &Runner{
		detector:      p.Detector,
		provider:      p.Provider,
		corrector:     p.Corrector,
		store:         p.Store,
		tokens:        p.Tokens,
		alerts:        p.Alerts,
		alertMinutes:  p.AlertMinutes,
		breaker:       resilience.New("active911", 3, 30*time.Second, resilience.WithIgnore(notConfigured)),
		notifier:      p.Notifier,
		failedDir:     p.FailedDir,
		vocabulary:    p.Vocabulary,
		reportHookURL: p.ReportHookURL,
		pollInterval:  interval,
		metrics:       m,
		httpClient:    &http.Client{Timeout: reportHookTimeout},
		failures:      make(map[string]int),
	}
}

// Run polls until ctx is cancelled, processing every ready recording in
// sorted order each cycle. It always returns nil; cancellation is the normal
// way to stop and is not an error.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("processing loop started",
		"poll_interval", r.pollInterval,
		"enrichment", r.tokens != nil && r.alerts != nil,
		"notifications", r.notifier != nil)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.cycle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("processing loop stopped", "recordings_processed", r.processed)
			return nil
		case <-ticker.C:
		}
	}
}

// cycle scans once and processes every ready recording.
func (r *Runner) cycle(ctx context.Context) {
	ready, err := r.detector.ListReady()
	if err != nil {
		slog.Error("scan failed", "error", err)
		return
	}
	for _, name := range ready {
		if ctx.Err() != nil {
			return
		}
		r.processOne(ctx, name)
	}
}

// processOne runs a single recording through the full pipeline. The move
// into the processed directory is the commit; any failure before it leaves
// the file in place for the next cycle.
func (r *Runner) processOne(ctx context.Context, name string) {
	ctx, span := observe.StartSpan(ctx, "pipeline.process_recording",
		trace.WithAttributes(attribute.String("recording.filename", name)))
	defer span.End()
	log := observe.Logger(ctx).With("file", name)

	// A growing file is still being written. Probe twice before giving up
	// on this cycle; slow recorders usually settle within one interval.
	if !r.detector.IsStable(name) && !r.detector.IsStable(name) {
		log.Debug("recording still growing, deferring")
		return
	}

	started := time.Now()
	res, err := r.provider.Transcribe(ctx, r.detector.Path(name), r.vocabulary)
	transcribeSeconds := time.Since(started).Seconds()
	r.metrics.TranscriptionDuration.Record(ctx, transcribeSeconds)
	if err != nil {
		r.recordFailure(ctx, log, name, err)
		return
	}
	delete(r.failures, name)

	corrected := r.corrector.Apply(res.Text)
	status := "ok"
	if corrected == correct.Sentinel {
		status = "hallucination"
		log.Warn("hallucination detected, recording sentinel", "raw_length", len(res.Text))
	}

	entry := ledger.Entry{
		Timestamp:      time.Now(),
		Filename:       name,
		RawText:        res.Text,
		CorrectedText:  corrected,
		AudioDuration:  res.Duration,
		ProcessingTime: transcribeSeconds,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		// The ledger plus the processed directory is the authoritative
		// record. Without the row the recording is not done: leave the file
		// in place and retry the whole thing next cycle.
		log.Error("ledger append failed, recording will be reprocessed", "error", err)
		return
	}

	if r.notifier != nil {
		enrich := r.enrich(ctx, log)
		message := pushover.FormatDispatchMessage(corrected, name, transcribeSeconds, enrich)
		if !r.notifier.Send(ctx, notificationTitle, message) {
			r.metrics.NotificationFailures.Add(ctx, 1)
			log.Warn("notification did not reach all recipients")
		}
	}

	r.postReportHook(ctx, entry)

	if err := r.detector.MoveProcessed(name); err != nil {
		log.Error("commit failed, recording will be reprocessed", "error", err)
		return
	}

	r.processed++
	r.metrics.RecordingsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	r.metrics.ProcessingDuration.Record(ctx, time.Since(started).Seconds())
	log.Info("recording processed",
		"status", status,
		"audio_seconds", res.Duration,
		"transcription_seconds", transcribeSeconds,
		"realtime_factor", entry.RealtimeFactor())
}

// recordFailure counts a transcription error and quarantines the file once
// its retry budget is spent.
func (r *Runner) recordFailure(ctx context.Context, log *slog.Logger, name string, err error) {
	r.metrics.TranscriptionFailures.Add(ctx, 1)
	r.failures[name]++
	attempts := r.failures[name]
	if attempts < maxAttempts {
		log.Error("transcription failed, will retry", "attempt", attempts, "error", err)
		return
	}

	delete(r.failures, name)
	if mvErr := r.detector.MoveTo(name, r.failedDir); mvErr != nil {
		log.Error("quarantine move failed", "error", mvErr)
		return
	}
	r.metrics.RecordingsQuarantined.Add(ctx, 1)
	log.Error("recording quarantined after repeated failures",
		"attempts", attempts, "dir", r.failedDir, "error", err)
}

// enrich looks up the most recent alert to decorate the notification. Every
// failure is swallowed: enrichment is strictly best-effort and must never
// block or fail a page. The circuit breaker keeps a dead alert API from
// adding its timeout to each recording.
func (r *Runner) enrich(ctx context.Context, log *slog.Logger) *pushover.Enrichment {
	if r.tokens == nil || r.alerts == nil {
		return nil
	}

	var alert *active911.Alert
	err := r.breaker.Execute(func() error {
		token, err := r.tokens.GetValidToken(ctx)
		if err != nil {
			return err
		}
		alert, err = r.alerts.FetchMostRecentAlert(ctx, token, r.alertMinutes)
		return err
	})

	switch {
	case errors.Is(err, resilience.ErrOpen):
		r.addEnrichment(ctx, "skipped")
		log.Debug("enrichment skipped, alert API breaker open")
		return nil
	case errors.Is(err, active911.ErrNotConfigured):
		r.addEnrichment(ctx, "skipped")
		log.Debug("enrichment skipped, credentials not configured")
		return nil
	case err != nil:
		r.addEnrichment(ctx, "error")
		log.Warn("enrichment failed, notifying without alert details", "error", err)
		return nil
	case alert == nil:
		r.addEnrichment(ctx, "empty")
		log.Debug("no recent alert inside window", "window_minutes", r.alertMinutes)
		return nil
	}

	r.addEnrichment(ctx, "ok")
	e := &pushover.Enrichment{
		Address: alert.Address,
		City:    alert.City,
		State:   alert.State,
	}
	if alert.HasCoordinates() {
		e.MapsURL = active911.MapsURL(alert.Latitude, alert.Longitude)
	}
	return e
}

func (r *Runner) addEnrichment(ctx context.Context, status string) {
	r.metrics.EnrichmentRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// reportHookPayload is the body POSTed to the report hook after each commit.
type reportHookPayload struct {
	Filename       string  `json:"filename"`
	CorrectedText  string  `json:"corrected_text"`
	AudioDuration  float64 `json:"audio_duration"`
	ProcessingTime float64 `json:"processing_time"`
	Timestamp      string  `json:"timestamp"`
}

// postReportHook notifies an optional downstream report generator that a new
// transcription exists. Fire-and-forget: errors are logged at debug level
// and never affect the pipeline.
func (r *Runner) postReportHook(ctx context.Context, entry ledger.Entry) {
	if r.reportHookURL == "" {
		return
	}
	body, err := json.Marshal(reportHookPayload{
		Filename:       entry.Filename,
		CorrectedText:  entry.CorrectedText,
		AudioDuration:  entry.AudioDuration,
		ProcessingTime: entry.ProcessingTime,
		Timestamp:      entry.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	// Detached from the per-recording span so a slow hook cannot delay the
	// commit past its own timeout.
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportHookTimeout)
	go func() {
		defer cancel()
		req, err := http.NewRequestWithContext(hookCtx, http.MethodPost, r.reportHookURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.httpClient.Do(req)
		if err != nil {
			slog.Debug("report hook unreachable", "error", err)
			return
		}
		resp.Body.Close()
	}()
}

// Processed returns the number of recordings committed since the runner was
// created.
func (r *Runner) Processed() int {
	return r.processed
}
