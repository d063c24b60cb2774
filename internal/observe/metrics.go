// Package observe provides application-wide observability primitives for
// suggestd: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry served on /metrics. Components
// receive a [*Metrics] built by [NewMetrics]; tests pass a
// [metric.MeterProvider] backed by a manual reader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all suggestd metrics.
const meterName = "github.com/faiq157/custom-ai-translator-suggestion"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Segment flow ---

	// SegmentsReceived counts segments delivered to the pipeline. Use with
	// attribute.String("status", "accepted"|"stopping"|"capture_error").
	SegmentsReceived metric.Int64Counter

	// VADDecisions counts voice activity verdicts. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...), attribute.Bool("voice", ...)
	VADDecisions metric.Int64Counter

	// QueueDrops counts segments rejected before running. Use with
	// attribute.String("reason", "overflow"|"cleared"|"closed").
	QueueDrops metric.Int64Counter

	// QueueInFlight tracks segment tasks currently executing.
	QueueInFlight metric.Int64UpDownCounter

	// --- Latency histograms per pipeline stage ---

	// QueueWait tracks how long a segment waited before starting.
	QueueWait metric.Float64Histogram

	// VADDuration tracks voice activity detection latency.
	VADDuration metric.Float64Histogram

	// STTDuration tracks transcription latency including retries.
	STTDuration metric.Float64Histogram

	// SuggestionDuration tracks suggestion generation latency.
	SuggestionDuration metric.Float64Histogram

	// SegmentDuration tracks end-to-end segment processing latency.
	SegmentDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Cost accumulates provider spend in USD. Use with
	// attribute.String("kind", "stt"|"llm").
	Cost metric.Float64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of recording sessions in progress.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// segment-pipeline latencies, which run from microseconds (quick VAD) to tens
// of seconds (retried transcription).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.SegmentsReceived, err = m.Int64Counter("suggestd.segments.received",
		metric.WithDescription("Total audio segments delivered to the pipeline by status."),
	); err != nil {
		return nil, err
	}
	if met.VADDecisions, err = m.Int64Counter("suggestd.vad.decisions",
		metric.WithDescription("Total voice activity verdicts by stage, reason, and outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("suggestd.queue.drops",
		metric.WithDescription("Total segments rejected before running by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("suggestd.provider.requests",
		metric.WithDescription("Total provider API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("suggestd.provider.errors",
		metric.WithDescription("Total provider errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Cost, err = m.Float64Counter("suggestd.cost",
		metric.WithDescription("Accumulated provider spend by kind."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}

	// Histograms.
	for _, h := range []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.QueueWait, "suggestd.queue.wait", "Time a segment waited in the queue before starting."},
		{&met.VADDuration, "suggestd.vad.duration", "Latency of voice activity detection."},
		{&met.STTDuration, "suggestd.stt.duration", "Latency of transcription including retries."},
		{&met.SuggestionDuration, "suggestd.suggestion.duration", "Latency of suggestion generation."},
		{&met.SegmentDuration, "suggestd.segment.duration", "End-to-end segment processing latency."},
	} {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.QueueInFlight, err = m.Int64UpDownCounter("suggestd.queue.in_flight",
		metric.WithDescription("Number of segment tasks currently executing."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("suggestd.active_sessions",
		metric.WithDescription("Number of recording sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("suggestd.event_subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("suggestd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment and,
// for a non-"ok" status, a provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordVADDecision records one voice activity verdict.
func (m *Metrics) RecordVADDecision(ctx context.Context, stage, reason string, voice bool) {
	m.VADDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
			attribute.Bool("voice", voice),
		),
	)
}

// RecordCost adds usd to the spend counter for kind.
func (m *Metrics) RecordCost(ctx context.Context, kind string, usd float64) {
	if usd <= 0 {
		return
	}
	m.Cost.Add(ctx, usd, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordQueueDrop records one rejected segment.
func (m *Metrics) RecordQueueDrop(ctx context.Context, reason string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
