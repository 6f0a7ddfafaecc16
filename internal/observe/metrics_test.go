package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
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

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordQueued(ctx, time.Second)
	m.RecordDequeued(ctx)
	m.RecordDiscarded(ctx, ReasonSinkFull)
	m.RecordClassifierError(ctx)
	m.RecordTranscription(ctx, "ok", time.Second)
}

func TestQueueDepthTracksQueuedAndDequeued(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQueued(ctx, 2*time.Second)
	m.RecordQueued(ctx, 3*time.Second)
	m.RecordDequeued(ctx)

	rm := collect(t, reader)
	depth := findMetric(rm, "whisper_listen.queue.depth")
	if depth == nil {
		t.Fatal("queue depth metric not found")
	}
	sum, ok := depth.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", depth.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("expected depth 1, got %d", got)
	}

	queued := findMetric(rm, "whisper_listen.segments.queued")
	if queued == nil {
		t.Fatal("queued metric not found")
	}
	if got := queued.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 2 {
		t.Errorf("expected 2 queued, got %d", got)
	}
}

func TestDiscardedCarriesReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDiscarded(ctx, ReasonSinkFull)
	m.RecordDiscarded(ctx, ReasonSinkFull)
	m.RecordDiscarded(ctx, ReasonTooShort)

	rm := collect(t, reader)
	discarded := findMetric(rm, "whisper_listen.segments.discarded")
	if discarded == nil {
		t.Fatal("discarded metric not found")
	}

	counts := map[string]int64{}
	for _, dp := range discarded.Data.(metricdata.Sum[int64]).DataPoints {
		reason, _ := dp.Attributes.Value(attribute.Key("reason"))
		counts[reason.AsString()] = dp.Value
	}
	if counts[ReasonSinkFull] != 2 || counts[ReasonTooShort] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestTranscriptionHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordTranscription(context.Background(), "ok", 1500*time.Millisecond)

	rm := collect(t, reader)
	hist := findMetric(rm, "whisper_listen.transcription.duration")
	if hist == nil {
		t.Fatal("transcription duration metric not found")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	if data.DataPoints[0].Count != 1 {
		t.Errorf("expected 1 observation, got %d", data.DataPoints[0].Count)
	}
	if data.DataPoints[0].Sum != 1.5 {
		t.Errorf("expected sum 1.5, got %g", data.DataPoints[0].Sum)
	}
}

func TestInitProviderServesMetrics(t *testing.T) {
	p, err := InitProvider()
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	p.Metrics.RecordQueued(context.Background(), time.Second)

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "whisper_listen_segments_queued") {
		t.Errorf("expected queued counter in output, got:\n%s", rec.Body.String())
	}
}
