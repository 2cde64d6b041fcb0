// Package observe provides application-wide observability primitives for
// VocalEdge: OpenTelemetry metrics, tracing, trace-aware logging, and the HTTP
// middleware used by the metrics/health listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VocalEdge metrics.
const meterName = "github.com/MrWong99/vocaledge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks post-session analysis latency.
	AnalysisDuration metric.Float64Histogram

	// ScoringDuration tracks pronunciation scoring latency.
	ScoringDuration metric.Float64Histogram

	// SynthesisDuration tracks single-phrase speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// --- Audio pipeline counters ---

	// FramesSent counts microphone frames handed to the conversational agent.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames discarded because the outbound
	// channel was full.
	FramesDropped metric.Int64Counter

	// Turns counts finalized turns. Use with attribute.String("role", ...).
	Turns metric.Int64Counter

	// Interruptions counts agent barge-in signals.
	Interruptions metric.Int64Counter

	// --- Coaching counters ---

	// Suggestions counts emitted suggestions. Use with attributes:
	//   attribute.String("type", ...), attribute.String("priority", ...)
	Suggestions metric.Int64Counter

	// EngineFaults counts faults absorbed by the coaching circuit breaker.
	EngineFaults metric.Int64Counter

	// BreakerOpens counts transitions of the coaching breaker to open.
	BreakerOpens metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// model calls, which range from sub-second synthesis to multi-second analysis.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.AnalysisDuration, "vocaledge.analysis.duration", "Latency of post-session transcript analysis."},
		{&met.ScoringDuration, "vocaledge.scoring.duration", "Latency of pronunciation scoring."},
		{&met.SynthesisDuration, "vocaledge.synthesis.duration", "Latency of single-phrase speech synthesis."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "vocaledge.audio.frames_sent", "Microphone frames forwarded to the agent."},
		{&met.FramesDropped, "vocaledge.audio.frames_dropped", "Microphone frames dropped under backpressure."},
		{&met.Turns, "vocaledge.turns", "Finalized turns by role."},
		{&met.Interruptions, "vocaledge.interruptions", "Agent interruption signals."},
		{&met.Suggestions, "vocaledge.coaching.suggestions", "Coaching suggestions emitted by type and priority."},
		{&met.EngineFaults, "vocaledge.coaching.faults", "Faults absorbed by the coaching engine."},
		{&met.BreakerOpens, "vocaledge.coaching.breaker_opens", "Times the coaching circuit breaker opened."},
		{&met.ProviderRequests, "vocaledge.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "vocaledge.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vocaledge.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vocaledge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSuggestion records an emitted coaching suggestion.
func (m *Metrics) RecordSuggestion(ctx context.Context, typ, priority string) {
	m.Suggestions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("priority", priority),
		),
	)
}

// RecordTurn records a finalized turn.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}
