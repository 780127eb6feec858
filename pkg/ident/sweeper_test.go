package ident_test

import (
	"context"
	"testing"
	"time"

	"github.com/auricle-labs/timbre/pkg/ident"
)

const day = 24 * time.Hour

// sweepFixture builds a MemStore with a movable clock and a Sweeper sharing it.
type sweepFixture struct {
	store   *ident.MemStore
	clock   time.Time
	results []ident.SweepResult
}

func newSweepFixture(t *testing.T, pruneAfter time.Duration) (*sweepFixture, *ident.Sweeper) {
	t.Helper()
	f := &sweepFixture{
		store: ident.NewMemStore(),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.clock })
	sweeper := ident.NewSweeper(ident.SweeperConfig{
		Store:      f.store,
		PruneAfter: pruneAfter,
		OnSweep:    func(r ident.SweepResult) { f.results = append(f.results, r) },
		Now:        func() time.Time { return f.clock },
	})
	return f, sweeper
}

func (f *sweepFixture) enrol(t *testing.T, name string, confidence float64, vectors ...[]float32) []*ident.Embedding {
	t.Helper()
	sp, err := f.store.CreateSpeaker(context.Background(), name, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]*ident.Embedding, 0, len(vectors))
	for _, v := range vectors {
		emb, err := f.store.AddEmbedding(context.Background(), sp.ID, v, confidence, ident.Provenance{})
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, emb)
	}
	return out
}

func TestSweepAppliesBandDecay(t *testing.T) {
	f, sweeper := newSweepFixture(t, 0)
	embs := f.enrol(t, "Alice", 0.9, unitVec(1))

	// 95 days without a reference lands in the 90-day band: -0.10.
	f.clock = f.clock.Add(95 * day)
	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if res.Scanned != 1 || res.Decayed != 1 {
		t.Fatalf("result = %+v, want 1 scanned, 1 decayed", res)
	}

	got, err := f.store.GetEmbedding(context.Background(), embs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got.Confidence, 0.80) {
		t.Errorf("confidence = %v, want 0.80", got.Confidence)
	}

	history, err := f.store.History(context.Background(), embs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Reason != ident.ReasonDecay {
		t.Errorf("history = %+v, want one decay row", history)
	}
}

func TestSweepIdempotentWithinBand(t *testing.T) {
	f, sweeper := newSweepFixture(t, 0)
	embs := f.enrol(t, "Alice", 0.9, unitVec(1))

	f.clock = f.clock.Add(95 * day)
	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A second sweep in the same band owes nothing more.
	f.clock = f.clock.Add(day)
	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Decayed != 0 {
		t.Errorf("second sweep decayed %d, want 0", res.Decayed)
	}
	got, err := f.store.GetEmbedding(context.Background(), embs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got.Confidence, 0.80) {
		t.Errorf("confidence drifted to %v", got.Confidence)
	}

	// Crossing into the next band applies only the difference.
	f.clock = f.clock.Add(90 * day) // now 186 days since reference
	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err = f.store.GetEmbedding(context.Background(), embs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got.Confidence, 0.75) {
		t.Errorf("confidence = %v, want 0.75 after the 180-day band", got.Confidence)
	}
}

func TestSweepRespectsFloor(t *testing.T) {
	f, sweeper := newSweepFixture(t, 0)
	embs := f.enrol(t, "Alice", 0.12, unitVec(1))

	f.clock = f.clock.Add(200 * day)
	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := f.store.GetEmbedding(context.Background(), embs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != ident.ConfidenceFloor {
		t.Errorf("confidence = %v, want clamped at floor", got.Confidence)
	}
}

func TestSweepSkipsFreshEmbeddings(t *testing.T) {
	f, sweeper := newSweepFixture(t, 0)
	f.enrol(t, "Alice", 0.9, unitVec(1))

	f.clock = f.clock.Add(10 * day)
	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 0 || res.Decayed != 0 {
		t.Errorf("fresh embedding swept: %+v", res)
	}
}

func TestSweepPrunesStaleFloorSamples(t *testing.T) {
	f, sweeper := newSweepFixture(t, 100*day)
	embs := f.enrol(t, "Alice", 0.1, unitVec(1), unitVec(0.5))

	f.clock = f.clock.Add(200 * day)
	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pruned != 1 {
		t.Fatalf("result = %+v, want 1 pruned", res)
	}

	// One of the two floor samples is gone; the survivor stays because
	// pruning never removes a speaker's last embedding.
	remaining := 0
	for _, emb := range embs {
		if _, err := f.store.GetEmbedding(context.Background(), emb.ID); err == nil {
			remaining++
		}
	}
	if remaining != 1 {
		t.Errorf("%d embeddings remain, want 1", remaining)
	}
}

func TestSweepNeverPrunesLastEmbedding(t *testing.T) {
	f, sweeper := newSweepFixture(t, 100*day)
	embs := f.enrol(t, "Alice", 0.1, unitVec(1))

	f.clock = f.clock.Add(200 * day)
	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Pruned != 0 {
		t.Errorf("result = %+v, want nothing pruned", res)
	}
	if _, err := f.store.GetEmbedding(context.Background(), embs[0].ID); err != nil {
		t.Errorf("last embedding pruned: %v", err)
	}
}

func TestSweepReportsToObserver(t *testing.T) {
	f, sweeper := newSweepFixture(t, 0)
	f.enrol(t, "Alice", 0.9, unitVec(1))

	f.clock = f.clock.Add(40 * day)
	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.results) != 1 {
		t.Fatalf("observer saw %d sweeps, want 1", len(f.results))
	}
	if f.results[0].Decayed != 1 {
		t.Errorf("observed result = %+v", f.results[0])
	}
}

func TestSweeperRunStops(t *testing.T) {
	_, sweeper := newSweepFixture(t, 0)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(context.Background()) }()

	sweeper.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after Stop, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	// Stop is idempotent.
	sweeper.Stop()
}

func TestSweeperRunHonoursContext(t *testing.T) {
	_, sweeper := newSweepFixture(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
