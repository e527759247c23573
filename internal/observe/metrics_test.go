package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"lingopack.stage.duration", m.StageDuration},
		{"lingopack.engine.duration", m.EngineDuration},
		{"lingopack.http.request.duration", m.HTTPRequestDuration},
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
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "audio", "ok", 250*time.Millisecond)
	m.RecordStage(ctx, "audio", "ok", 750*time.Millisecond)
	m.RecordStage(ctx, "audio", "retry", 100*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "lingopack.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	// Find the data point with outcome=ok.
	for _, dp := range hist.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "outcome" && kv.Value.AsString() == "ok" {
				if dp.Count != 2 {
					t.Errorf("sample count = %d, want 2", dp.Count)
				}
				if dp.Sum < 0.99 || dp.Sum > 1.01 {
					t.Errorf("sample sum = %f, want 1.0", dp.Sum)
				}
				return
			}
		}
	}
	t.Error("data point with outcome=ok not found")
}

func TestRecordEngineCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEngineCall(ctx, "stt", "whisper-native", 2*time.Second)
	m.RecordEngineCall(ctx, "translation", "openai", time.Second)

	rm := collect(t, reader)
	met := findMetric(rm, "lingopack.engine.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := len(hist.DataPoints); got != 2 {
		t.Fatalf("data points = %d, want 2 (one per engine)", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTaskCreated(ctx, "audio")
	m.RecordTaskCreated(ctx, "audio")
	m.RecordTaskCreated(ctx, "text")

	m.RecordConsumed(ctx, "audio_processing", "ok")
	m.RecordConsumed(ctx, "audio_processing", "drop")

	m.RecordPublished(ctx, "text_packaging")

	rm := collect(t, reader)

	counters := []struct {
		name      string
		attrKey   string
		attrValue string
		want      int64
	}{
		{"lingopack.tasks.created", "type", "audio", 2},
		{"lingopack.messages.consumed", "outcome", "ok", 1},
		{"lingopack.messages.published", "topic", "text_packaging", 1},
	}

	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == tc.attrKey && kv.Value.AsString() == tc.attrValue {
						if dp.Value != tc.want {
							t.Errorf("counter value = %d, want %d", dp.Value, tc.want)
						}
						return
					}
				}
			}
			t.Errorf("data point with %s=%s not found", tc.attrKey, tc.attrValue)
		})
	}
}

func TestRecordPackageBytes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPackageBytes(ctx, 2048)
	m.RecordPackageBytes(ctx, 4096)

	rm := collect(t, reader)
	met := findMetric(rm, "lingopack.package.bytes")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
	if got := hist.DataPoints[0].Sum; got != 6144 {
		t.Errorf("sample sum = %d, want 6144", got)
	}
}

func TestRecordBatchSize_LastValueWins(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBatchSize(ctx, 50)
	m.RecordBatchSize(ctx, 25)

	rm := collect(t, reader)
	met := findMetric(rm, "lingopack.batch.size")
	if met == nil {
		t.Fatal("metric not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("metric is not a gauge")
	}
	if len(gauge.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := gauge.DataPoints[0].Value; got != 25 {
		t.Errorf("gauge value = %d, want 25", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
