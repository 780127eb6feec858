package app

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/auricle-labs/timbre/internal/config"
	"github.com/auricle-labs/timbre/internal/observe"
	"github.com/auricle-labs/timbre/pkg/ident"
)

const testDims = 4

func unitVec(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0, 0}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Store.EmbeddingDimensions = testDims
	return cfg
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewDefaultsToMemStore(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	a, err := New(context.Background(), testConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	sp, _, err := a.Engine().Register(context.Background(), "Alice", unitVec(1.0), nil, ident.Provenance{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, err := a.Engine().Identify(context.Background(), unitVec(0.99), ident.QueryContext{})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !d.Identified || d.SpeakerID != sp.ID {
		t.Errorf("decision = %+v, want auto match for Alice", d)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestEngineHonoursConfig(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	cfg := testConfig()
	cfg.Identify.Thresholds = config.ThresholdsConfig{Auto: 0.95, Suggested: 0.80, Uncertain: 0.65}

	a, err := New(context.Background(), cfg, WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	got := a.Engine().Thresholds()
	if got.Auto != 0.95 || got.Suggested != 0.80 || got.Uncertain != 0.65 {
		t.Errorf("thresholds = %+v", got)
	}
	if a.Engine().Dimensions() != testDims {
		t.Errorf("dimensions = %d, want %d", a.Engine().Dimensions(), testDims)
	}
}

func TestMCPEnabledMountsEndpoint(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	cfg := testConfig()
	cfg.MCP.Enabled = true

	a, err := New(context.Background(), cfg, WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/mcp", nil))
	if rec.Code == http.StatusNotFound {
		t.Error("/mcp not mounted despite mcp.enabled")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	a, err := New(context.Background(), testConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on clean cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	a, err := New(context.Background(), testConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Store instrumentation
// ─────────────────────────────────────────────────────────────────────────────

func TestInstrumentedStoreRecordsMetrics(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	a, err := New(context.Background(), testConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx := context.Background()
	if _, _, err := a.Engine().Register(ctx, "Alice", unitVec(1.0), nil, ident.Provenance{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, err := a.Engine().Identify(ctx, unitVec(0.99), ident.QueryContext{})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if _, err := a.Engine().Feedback(ctx, ident.FeedbackRequest{EventID: d.EventID, Agrees: true}); err != nil {
		t.Fatalf("Feedback: %v", err)
	}

	scan := findMetric(t, reader, "timbre.identify.scan_size")
	if scan == nil {
		t.Fatal("scan size not recorded")
	}
	hist, ok := scan.Data.(metricdata.Histogram[int64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count == 0 {
		t.Errorf("scan size data = %+v", scan.Data)
	}

	adj := findMetric(t, reader, "timbre.confidence.adjustments")
	if adj == nil {
		t.Fatal("adjustments not recorded")
	}
	sum, ok := adj.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("adjustment data = %+v", adj.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total == 0 {
		t.Error("no confidence adjustments counted")
	}
}

// scanCapableStore gives MemStore a NearestEmbeddings method so the wrapper's
// capability passthrough can be asserted.
type scanCapableStore struct {
	*ident.MemStore
}

func (s *scanCapableStore) NearestEmbeddings(ctx context.Context, query []float32, k int) ([]ident.Embedding, error) {
	embeddings, err := s.AllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	if len(embeddings) > k {
		embeddings = embeddings[:k]
	}
	return embeddings, nil
}

func TestInstrumentPreservesCandidateScanner(t *testing.T) {
	metrics, _ := newTestMetrics(t)

	plain := instrument(ident.NewMemStore(), metrics)
	if _, ok := plain.(ident.CandidateScanner); ok {
		t.Error("plain store wrapper claims scanning capability")
	}

	scannable := instrument(&scanCapableStore{ident.NewMemStore()}, metrics)
	if _, ok := scannable.(ident.CandidateScanner); !ok {
		t.Error("scanning store wrapper lost the capability")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Sweeper wiring
// ─────────────────────────────────────────────────────────────────────────────

func TestSweepRecordsMetricsAndPublishes(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	// Build a store whose single embedding is 95 days old.
	past := time.Now().Add(-95 * 24 * time.Hour)
	ms := ident.NewMemStore()
	ms.SetClock(func() time.Time { return past })
	sp, err := ms.CreateSpeaker(context.Background(), "Alice", nil)
	if err != nil {
		t.Fatalf("CreateSpeaker: %v", err)
	}
	if _, err := ms.AddEmbedding(context.Background(), sp.ID, unitVec(1.0), 0.9, ident.Provenance{}); err != nil {
		t.Fatalf("AddEmbedding: %v", err)
	}
	ms.SetClock(time.Now)

	a, err := New(context.Background(), testConfig(), WithMetrics(metrics), WithStore(ms))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	events, unsubscribe := a.Engine().Bus().Subscribe()
	defer unsubscribe()

	res, err := a.sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if res.Decayed != 1 {
		t.Fatalf("decayed = %d, want 1", res.Decayed)
	}

	decayed := findMetric(t, reader, "timbre.decay.decayed")
	if decayed == nil {
		t.Fatal("decay metric not recorded")
	}
	sum := decayed.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("decayed metric = %d, want 1", sum.DataPoints[0].Value)
	}

	select {
	case ev := <-events:
		if ev.Topic != ident.TopicDecay {
			t.Errorf("topic = %q, want decay", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Error("no decay event published to the bus")
	}
}
