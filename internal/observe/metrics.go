// Package observe provides application-wide observability primitives for
// TTSKit: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all TTSKit metrics.
const meterName = "github.com/ttskit/ttskit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthDuration tracks end-to-end synthesis latency (validate, route,
	// transcode) as observed at a boundary.
	SynthDuration metric.Float64Histogram

	// EngineCallDuration tracks a single engine driver call.
	EngineCallDuration metric.Float64Histogram

	// TranscodeDuration tracks audio pipeline post-processing latency.
	TranscodeDuration metric.Float64Histogram

	// --- Counters ---

	// SynthRequests counts synthesis requests. Use with attributes:
	//   attribute.String("boundary", ...), attribute.String("status", ...)
	SynthRequests metric.Int64Counter

	// EngineErrors counts classified engine failures. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// CacheEvents counts content-cache lookups. Use with attribute:
	//   attribute.String("outcome", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// AudioBytesOut counts encoded audio bytes handed to callers. Use with
	// attribute: attribute.String("boundary", ...)
	AudioBytesOut metric.Int64Counter

	// --- Gauges ---

	// ActiveSynths tracks the number of in-flight synthesis requests.
	ActiveSynths metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesis latencies, which run from sub-second cache hits up to the 30 s
// per-engine call timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthDuration, err = m.Float64Histogram("ttskit.synth.duration",
		metric.WithDescription("End-to-end synthesis latency per boundary."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineCallDuration, err = m.Float64Histogram("ttskit.engine.call.duration",
		metric.WithDescription("Latency of a single engine driver call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("ttskit.transcode.duration",
		metric.WithDescription("Latency of audio pipeline post-processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthRequests, err = m.Int64Counter("ttskit.synth.requests",
		metric.WithDescription("Total synthesis requests by boundary and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("ttskit.engine.errors",
		metric.WithDescription("Total classified engine failures by engine and kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("ttskit.cache.events",
		metric.WithDescription("Content cache lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesOut, err = m.Int64Counter("ttskit.audio.bytes_out",
		metric.WithDescription("Encoded audio bytes returned to callers by boundary."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSynths, err = m.Int64UpDownCounter("ttskit.active_synths",
		metric.WithDescription("Number of in-flight synthesis requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ttskit.http.request.duration",
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

// RecordSynthRequest records a synthesis request counter increment with the
// standard attribute set. boundary is "bot" or "api"; status is "ok" or the
// error kind.
func (m *Metrics) RecordSynthRequest(ctx context.Context, boundary, status string) {
	m.SynthRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("boundary", boundary),
			attribute.String("status", status),
		),
	)
}

// RecordEngineError records a classified engine failure.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, kind string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheEvent records a content-cache lookup outcome ("hit" or "miss").
func (m *Metrics) RecordCacheEvent(ctx context.Context, outcome string) {
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordAudioOut records encoded audio bytes handed to a caller.
func (m *Metrics) RecordAudioOut(ctx context.Context, boundary string, bytes int) {
	m.AudioBytesOut.Add(ctx, int64(bytes),
		metric.WithAttributes(attribute.String("boundary", boundary)),
	)
}
