// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging helpers,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/dzagr-ss/ai-meeting-sub000"

// Metrics holds all OpenTelemetry metric instruments for the transcription
// pipeline. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// WindowAnalysisDuration tracks per-window speaker analysis latency on
	// the live path. Use with attribute.String("variant", ...).
	WindowAnalysisDuration metric.Float64Histogram

	// FileAnalysisDuration tracks whole-file analysis latency on the batch
	// path.
	FileAnalysisDuration metric.Float64Histogram

	// RefineDuration tracks end-to-end reconciliation pass latency.
	RefineDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksReceived counts raw audio chunks accepted from live sessions.
	ChunksReceived metric.Int64Counter

	// SegmentsEmitted counts transcript segments emitted by live windows.
	SegmentsEmitted metric.Int64Counter

	// WindowsFailed counts live windows dropped because analysis failed.
	WindowsFailed metric.Int64Counter

	// RefinePasses counts reconciliation passes. Use with
	// attribute.String("status", "ok"|"failed"|"discarded").
	RefinePasses metric.Int64Counter

	// CacheLookups counts fingerprint cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	CacheLookups metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Wide on
// the right because whole-file analysis of long recordings is slow.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.WindowAnalysisDuration, err = m.Float64Histogram("meetingd.window.analysis.duration",
		metric.WithDescription("Latency of per-window speaker analysis on the live path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FileAnalysisDuration, err = m.Float64Histogram("meetingd.file.analysis.duration",
		metric.WithDescription("Latency of whole-file speaker analysis on the batch path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = m.Float64Histogram("meetingd.refine.duration",
		metric.WithDescription("End-to-end reconciliation pass latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksReceived, err = m.Int64Counter("meetingd.chunks.received",
		metric.WithDescription("Raw audio chunks accepted from live sessions."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("meetingd.segments.emitted",
		metric.WithDescription("Transcript segments emitted by live analysis windows."),
	); err != nil {
		return nil, err
	}
	if met.WindowsFailed, err = m.Int64Counter("meetingd.windows.failed",
		metric.WithDescription("Live windows dropped because analysis failed."),
	); err != nil {
		return nil, err
	}
	if met.RefinePasses, err = m.Int64Counter("meetingd.refine.passes",
		metric.WithDescription("Reconciliation passes by status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("meetingd.cache.lookups",
		metric.WithDescription("Fingerprint cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetingd.active_sessions",
		metric.WithDescription("Number of open live streaming sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetingd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
