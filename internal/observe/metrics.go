// Package observe provides the assistant's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [Setup], so they can be scraped from /metrics. Code
// that has no Metrics injected falls back to [DefaultMetrics]; tests build
// their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every assistant metric.
const meterName = "github.com/stephen37/voice-assistant"

// Status values used with the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the assistant's metric instruments. The OTel instruments are
// safe for concurrent use.
type Metrics struct {
	// ── latency ────────────────────────────────────────────────────────────

	// TurnDuration is the time from a final transcript to the end of playback.
	TurnDuration metric.Float64Histogram

	// RouteDuration is the time the router spends choosing a branch and
	// gathering its context. Attribute: route.
	RouteDuration metric.Float64Histogram

	// EmbeddingDuration is the latency of a single embedding call.
	EmbeddingDuration metric.Float64Histogram

	// SearchDuration is the latency of a context lookup. Attribute: source
	// (knowledge, calendar, web).
	SearchDuration metric.Float64Histogram

	// LLMDuration is the latency of a full completion.
	LLMDuration metric.Float64Histogram

	// TTSDuration is the time from sending text to the end of playback.
	TTSDuration metric.Float64Histogram

	// ToolExecutionDuration is the latency of a tool server call. Attribute: tool.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration is the latency of an HTTP API request. Attributes:
	// method, route (the mux pattern), status.
	HTTPRequestDuration metric.Float64Histogram

	// ── counters ───────────────────────────────────────────────────────────

	// Transcripts counts final transcripts received. Attribute: corrected.
	Transcripts metric.Int64Counter

	// DroppedTranscripts counts finals discarded because a turn was in flight.
	DroppedTranscripts metric.Int64Counter

	// Routes counts routing decisions. Attribute: route.
	Routes metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool server invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// LearnedChunks counts web passages written back to the knowledge base.
	LearnedChunks metric.Int64Counter

	// ── gauges ─────────────────────────────────────────────────────────────

	// Listening is 1 while the assistant is listening and 0 otherwise.
	Listening metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, sized for network round
// trips to hosted models.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TurnDuration, "voice_assistant.turn.duration", "Latency from final transcript to end of playback."},
		{&met.RouteDuration, "voice_assistant.route.duration", "Latency of routing and context gathering."},
		{&met.EmbeddingDuration, "voice_assistant.embedding.duration", "Latency of embedding calls."},
		{&met.SearchDuration, "voice_assistant.search.duration", "Latency of knowledge, calendar and web lookups."},
		{&met.LLMDuration, "voice_assistant.llm.duration", "Latency of language model completions."},
		{&met.TTSDuration, "voice_assistant.tts.duration", "Latency of speech synthesis and playback."},
		{&met.ToolExecutionDuration, "voice_assistant.tool_execution.duration", "Latency of tool server calls."},
		{&met.HTTPRequestDuration, "voice_assistant.http.request.duration", "HTTP request latency by route and status."},
	}
	for _, h := range histograms {
		var err error
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
		{&met.Transcripts, "voice_assistant.transcripts", "Final transcripts received."},
		{&met.DroppedTranscripts, "voice_assistant.transcripts.dropped", "Final transcripts dropped while a turn was in flight."},
		{&met.Routes, "voice_assistant.routes", "Routing decisions by route."},
		{&met.ProviderRequests, "voice_assistant.provider.requests", "Provider requests by provider, kind and status."},
		{&met.ProviderErrors, "voice_assistant.provider.errors", "Provider errors by provider and kind."},
		{&met.ToolCalls, "voice_assistant.tool.calls", "Tool server calls by tool and status."},
		{&met.LearnedChunks, "voice_assistant.knowledge.learned", "Web passages indexed into the knowledge base."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	var err error
	if met.Listening, err = m.Int64UpDownCounter("voice_assistant.listening",
		metric.WithDescription("1 while the assistant is listening."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from the global meter provider. Panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps err to StatusOK or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordProviderRequest counts one provider call and, when err is non-nil,
// one provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", Status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}

// RecordRoute counts a routing decision and its latency in seconds.
func (m *Metrics) RecordRoute(ctx context.Context, route string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("route", route))
	m.Routes.Add(ctx, 1, attrs)
	m.RouteDuration.Record(ctx, seconds, attrs)
}

// RecordSearch records a context lookup latency in seconds.
func (m *Metrics) RecordSearch(ctx context.Context, source string, seconds float64) {
	m.SearchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("source", source)))
}

// RecordToolCall counts one tool call and records its latency in seconds.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, seconds float64, err error) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", Status(err)),
	))
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordTranscript counts a final transcript.
func (m *Metrics) RecordTranscript(ctx context.Context, corrected bool) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("corrected", corrected)))
}

// RecordDroppedTranscript counts a final discarded while busy.
func (m *Metrics) RecordDroppedTranscript(ctx context.Context) {
	m.DroppedTranscripts.Add(ctx, 1)
}

// RecordListening moves the listening gauge by +1 (on) or -1 (off).
func (m *Metrics) RecordListening(ctx context.Context, on bool) {
	delta := int64(-1)
	if on {
		delta = 1
	}
	m.Listening.Add(ctx, delta)
}
