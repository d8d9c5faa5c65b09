package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/audio/mock"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumFor returns the int64 sum data point whose attribute key equals value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordSynthesis(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSynthesis(ctx, "ok", 0.4)
	m.RecordSynthesis(ctx, "ok", 0.6)
	m.RecordSynthesis(ctx, "auth_expired", 0.1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chatvoice.synthesis.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "chatvoice.synthesis.requests", "status", "auth_expired"); got != 1 {
		t.Errorf("auth_expired requests = %d, want 1", got)
	}

	met := findMetric(rm, "chatvoice.synthesis.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("histogram count = %d, want 3", total)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokenRefresh(ctx, "ok")
	m.RecordTokenRefresh(ctx, "error")
	m.RecordTokenRefresh(ctx, "error")
	m.RecordMix(ctx, audio.MixAppend)
	m.RecordMix(ctx, audio.MixOverlay)
	m.RecordMix(ctx, audio.MixAppend)
	m.RecordDrop(ctx, "gave_up")
	m.RecordIngest(ctx, "stdin")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"chatvoice.token.refreshes", "status", "error", 2},
		{"chatvoice.token.refreshes", "status", "ok", 1},
		{"chatvoice.utterances.mixed", "mode", "append", 2},
		{"chatvoice.utterances.mixed", "mode", "overlay", 1},
		{"chatvoice.utterances.dropped", "reason", "gave_up", 1},
		{"chatvoice.ingest.messages", "source", "stdin", 1},
	}
	for _, tc := range tests {
		if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.name, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestObserveMixer(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	mx := &mock.Mixer{StatsResult: audio.MixerStats{
		Pending:       48000,
		Backlog:       2 * time.Second,
		TalkActivity:  3,
		PlayedBlocks:  10,
		DuckedBlocks:  4,
		CaptureBlocks: 14,
	}}

	unregister, err := m.ObserveMixer(mx)
	if err != nil {
		t.Fatalf("ObserveMixer: %v", err)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "chatvoice.playback.backlog")
	if met == nil {
		t.Fatal("backlog gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[float64])
	if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 2 {
		t.Errorf("backlog = %+v, want 2s", met.Data)
	}
	if got := sumFor(t, rm, "chatvoice.playback.blocks", "outcome", "ducked"); got != 4 {
		t.Errorf("ducked = %d, want 4", got)
	}
	if got := sumFor(t, rm, "chatvoice.playback.blocks", "outcome", "played"); got != 10 {
		t.Errorf("played = %d, want 10", got)
	}

	if err := unregister(); err != nil {
		t.Fatalf("unregister: %v", err)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "chatvoice.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()

	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
