// Package observe provides observability primitives for dispatchscribe:
// OpenTelemetry metrics, a tracer for per-recording spans, and the provider
// setup that bridges metrics into Prometheus.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// a Prometheus exporter so they can be scraped from the standard /metrics
// endpoint. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/dispatchscribe"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks engine wall time per recording.
	TranscriptionDuration metric.Float64Histogram

	// ProcessingDuration tracks total per-recording pipeline time, from
	// stability confirmation to commit.
	ProcessingDuration metric.Float64Histogram

	// RecordingsProcessed counts committed recordings. Attribute:
	//   attribute.String("status", "ok"|"hallucination")
	RecordingsProcessed metric.Int64Counter

	// TranscriptionFailures counts per-file transcription errors (each one
	// leaves the file in the watch directory for retry).
	TranscriptionFailures metric.Int64Counter

	// RecordingsQuarantined counts files moved to the failed directory
	// after exhausting their retry budget.
	RecordingsQuarantined metric.Int64Counter

	// EnrichmentRequests counts alert-lookup attempts. Attribute:
	//   attribute.String("status", "ok"|"empty"|"error"|"skipped")
	EnrichmentRequests metric.Int64Counter

	// NotificationFailures counts notification fan-outs that did not reach
	// every recipient.
	NotificationFailures metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription of short radio recordings.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("dispatchscribe.transcription.duration",
		metric.WithDescription("Engine wall time per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessingDuration, err = m.Float64Histogram("dispatchscribe.processing.duration",
		metric.WithDescription("Total pipeline time per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingsProcessed, err = m.Int64Counter("dispatchscribe.recordings.processed",
		metric.WithDescription("Recordings committed to the processed directory, by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionFailures, err = m.Int64Counter("dispatchscribe.transcription.failures",
		metric.WithDescription("Per-file transcription errors."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsQuarantined, err = m.Int64Counter("dispatchscribe.recordings.quarantined",
		metric.WithDescription("Recordings moved to the failed directory after repeated errors."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentRequests, err = m.Int64Counter("dispatchscribe.enrichment.requests",
		metric.WithDescription("Alert enrichment attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.NotificationFailures, err = m.Int64Counter("dispatchscribe.notification.failures",
		metric.WithDescription("Notification fan-outs with at least one failed recipient."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
