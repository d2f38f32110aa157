// Package observe provides application-wide observability primitives for
// Kestrel: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kestrel metrics.
const meterName = "github.com/kestrelvoice/kestrel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks post-wake stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// WakeCycleDuration tracks the full wake-to-listening cycle latency.
	WakeCycleDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksProcessed counts audio chunks accepted by ProcessChunk.
	ChunksProcessed metric.Int64Counter

	// ChunksDropped counts chunks discarded while the pipeline was busy or
	// the frame failed ingress validation. Use with attribute:
	//   attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// WakeDetections counts wake-word hits. Use with attribute:
	//   attribute.String("keyword", ...)
	WakeDetections metric.Int64Counter

	// Recoveries counts stage failures recovered back to listening. Use with
	// attribute:
	//   attribute.String("stage", ...)
	Recoveries metric.Int64Counter

	// SubscriberPanics counts event subscribers recovered from a panic.
	SubscriberPanics metric.Int64Counter

	// DecodeErrors counts recognizer failures contained by the wake-word
	// wrapper.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live detection sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("kestrel.stage.duration",
		metric.WithDescription("Latency of post-wake pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WakeCycleDuration, err = m.Float64Histogram("kestrel.wake_cycle.duration",
		metric.WithDescription("Latency of the full wake-to-listening cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksProcessed, err = m.Int64Counter("kestrel.chunks.processed",
		metric.WithDescription("Total audio chunks accepted by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("kestrel.chunks.dropped",
		metric.WithDescription("Total audio chunks discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("kestrel.wake.detections",
		metric.WithDescription("Total wake-word detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.Recoveries, err = m.Int64Counter("kestrel.pipeline.recoveries",
		metric.WithDescription("Total stage failures recovered back to listening, by stage."),
	); err != nil {
		return nil, err
	}
	if met.SubscriberPanics, err = m.Int64Counter("kestrel.bus.subscriber_panics",
		metric.WithDescription("Total event subscriber panics recovered by the bus."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("kestrel.spotter.decode_errors",
		metric.WithDescription("Total recognizer failures contained by the wake-word wrapper."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kestrel.active_sessions",
		metric.WithDescription("Number of live detection sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kestrel.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordStageDuration records one stage latency sample with the stage
// attribute.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordDroppedChunk records a discarded chunk with the reason attribute.
func (m *Metrics) RecordDroppedChunk(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordWakeDetection records one wake-word hit with the keyword attribute.
func (m *Metrics) RecordWakeDetection(ctx context.Context, keyword string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("keyword", keyword)),
	)
}

// RecordRecovery records one stage-failure recovery with the stage attribute.
func (m *Metrics) RecordRecovery(ctx context.Context, stage string) {
	m.Recoveries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
