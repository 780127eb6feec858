package observe

import (
	"context"
	"testing"
	"time"

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

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "auto", 12*time.Millisecond)
	m.RecordDecision(ctx, "auto", 8*time.Millisecond)
	m.RecordDecision(ctx, "unknown", 5*time.Millisecond)

	rm := collect(t, reader)

	hist := findMetric(rm, "timbre.identify.duration")
	if hist == nil {
		t.Fatal("identify duration histogram not recorded")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) == 0 {
		t.Fatalf("unexpected histogram data: %T", hist.Data)
	}
	if got := data.DataPoints[0].Count; got != 3 {
		t.Errorf("histogram count = %d, want 3", got)
	}

	counter := findMetric(rm, "timbre.identify.decisions")
	if counter == nil {
		t.Fatal("decision counter not recorded")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected counter data: %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("decision total = %d, want 3", total)
	}
	// Tiers land on separate attribute sets.
	if len(sum.DataPoints) != 2 {
		t.Errorf("got %d attribute sets, want 2 (auto, unknown)", len(sum.DataPoints))
	}
}

func TestRecordFeedbackAndAdjustments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFeedback(ctx, "agree", "ok")
	m.RecordFeedback(ctx, "reject", "ok")
	m.RecordAdjustment(ctx, "correct")
	m.RecordAdjustment(ctx, "decay")

	rm := collect(t, reader)
	for _, name := range []string{"timbre.feedback.submissions", "timbre.confidence.adjustments"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not recorded", name)
			continue
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("%s: unexpected data %T", name, met.Data)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != 2 {
			t.Errorf("%s total = %d, want 2", name, total)
		}
	}
}

func TestRecordSweep(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSweep(ctx, 3, 1)
	m.RecordSweep(ctx, 2, 0)

	rm := collect(t, reader)

	decayed := findMetric(rm, "timbre.decay.decayed")
	if decayed == nil {
		t.Fatal("decay counter not recorded")
	}
	sum := decayed.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 5 {
		t.Errorf("decayed = %d, want 5", sum.DataPoints[0].Value)
	}

	pruned := findMetric(rm, "timbre.decay.pruned")
	if pruned == nil {
		t.Fatal("prune counter not recorded")
	}
	sum = pruned.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("pruned = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
