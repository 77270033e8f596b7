package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying attr=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, attr, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if attr == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(attr)); ok && v.Emit() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, attr, value)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voice_assistant.turn.duration", m.TurnDuration},
		{"voice_assistant.route.duration", m.RouteDuration},
		{"voice_assistant.embedding.duration", m.EmbeddingDuration},
		{"voice_assistant.search.duration", m.SearchDuration},
		{"voice_assistant.llm.duration", m.LLMDuration},
		{"voice_assistant.tts.duration", m.TTSDuration},
		{"voice_assistant.tool_execution.duration", m.ToolExecutionDuration},
		{"voice_assistant.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one with count 2", hist.DataPoints)
			}
		})
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "jina", "embeddings", nil)
	m.RecordProviderRequest(ctx, "jina", "embeddings", nil)
	m.RecordProviderRequest(ctx, "jina", "embeddings", errors.New("429"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voice_assistant.provider.requests", "status", StatusOK); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voice_assistant.provider.requests", "status", StatusError); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voice_assistant.provider.errors", "provider", "jina"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordRoute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRoute(ctx, "knowledge", 0.2)
	m.RecordRoute(ctx, "knowledge", 0.3)
	m.RecordRoute(ctx, "web", 1.1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voice_assistant.routes", "route", "knowledge"); got != 2 {
		t.Errorf("knowledge routes = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voice_assistant.routes", "route", "web"); got != 1 {
		t.Errorf("web routes = %d, want 1", got)
	}
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "knowledge_search", 0.01, nil)
	m.RecordToolCall(ctx, "knowledge_search", 0.02, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voice_assistant.tool.calls", "status", StatusOK); got != 1 {
		t.Errorf("ok calls = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voice_assistant.tool.calls", "status", StatusError); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}
}

func TestTranscriptCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, true)
	m.RecordTranscript(ctx, false)
	m.RecordTranscript(ctx, false)
	m.RecordDroppedTranscript(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voice_assistant.transcripts", "corrected", "false"); got != 2 {
		t.Errorf("uncorrected transcripts = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voice_assistant.transcripts.dropped", "", ""); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestRecordListening(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordListening(ctx, true)
	m.RecordListening(ctx, false)
	m.RecordListening(ctx, true)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voice_assistant.listening", "", ""); got != 1 {
		t.Errorf("listening = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != StatusOK || Status(errors.New("x")) != StatusError {
		t.Error("Status mapping is wrong")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
