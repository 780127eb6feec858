package ident_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/auricle-labs/timbre/pkg/ident"
)

// unitVec returns a 4-dimensional unit vector whose cosine similarity with
// the basis vector {1,0,0,0} is c.
func unitVec(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0, 0}
}

func seedSpeaker(t *testing.T, store *ident.MemStore, name string, vectors ...[]float32) *ident.Speaker {
	t.Helper()
	sp, err := store.CreateSpeaker(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("CreateSpeaker(%q): %v", name, err)
	}
	for _, v := range vectors {
		if _, err := store.AddEmbedding(context.Background(), sp.ID, v, 0, ident.Provenance{}); err != nil {
			t.Fatalf("AddEmbedding: %v", err)
		}
	}
	return sp
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero left", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"zero right", []float32{1, 0}, []float32{0, 0}, 0.0},
		{"scale invariant", []float32{1, 1}, []float32{5, 5}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ident.CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBestEmptyStore(t *testing.T) {
	m := ident.NewMatcher(ident.NewMemStore(), 0)
	best, runnerUp, err := m.Best(context.Background(), unitVec(1))
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best != nil || runnerUp != nil {
		t.Errorf("empty store: best = %v, runnerUp = %v, want nil/nil", best, runnerUp)
	}
}

func TestBestPicksPerSpeakerMaximum(t *testing.T) {
	store := ident.NewMemStore()
	// Alice has one close and one distant sample; her score must be the
	// close one, not an average.
	alice := seedSpeaker(t, store, "Alice", unitVec(0.95), unitVec(0.2))
	bob := seedSpeaker(t, store, "Bob", unitVec(0.6))

	best, runnerUp, err := ident.NewMatcher(store, 0).Best(context.Background(), unitVec(1))
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best == nil || best.SpeakerID != alice.ID {
		t.Fatalf("best = %+v, want Alice", best)
	}
	if best.Score < 0.94 || best.Score > 0.96 {
		t.Errorf("best score = %v, want ~0.95", best.Score)
	}
	if runnerUp == nil || runnerUp.SpeakerID != bob.ID {
		t.Fatalf("runnerUp = %+v, want Bob", runnerUp)
	}
	if runnerUp.Score < 0.59 || runnerUp.Score > 0.61 {
		t.Errorf("runnerUp score = %v, want ~0.6", runnerUp.Score)
	}
}

func TestBestTieBreakByConfidence(t *testing.T) {
	store := ident.NewMemStore()
	query := unitVec(1)

	loser, err := store.CreateSpeaker(context.Background(), "Low", nil)
	if err != nil {
		t.Fatal(err)
	}
	winner, err := store.CreateSpeaker(context.Background(), "High", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddEmbedding(context.Background(), loser.ID, query, 0.5, ident.Provenance{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddEmbedding(context.Background(), winner.ID, query, 0.9, ident.Provenance{}); err != nil {
		t.Fatal(err)
	}

	best, _, err := ident.NewMatcher(store, 0).Best(context.Background(), query)
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.SpeakerID != winner.ID {
		t.Errorf("tie broken to %s, want the higher-confidence speaker %s", best.SpeakerID, winner.ID)
	}
}

func TestBestTieBreakByRecency(t *testing.T) {
	store := ident.NewMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	query := unitVec(1)
	older := seedSpeaker(t, store, "Older")
	if _, err := store.AddEmbedding(context.Background(), older.ID, query, 0.5, ident.Provenance{}); err != nil {
		t.Fatal(err)
	}
	clock = base.Add(time.Hour)
	newer := seedSpeaker(t, store, "Newer")
	if _, err := store.AddEmbedding(context.Background(), newer.ID, query, 0.5, ident.Provenance{}); err != nil {
		t.Fatal(err)
	}

	best, _, err := ident.NewMatcher(store, 0).Best(context.Background(), query)
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.SpeakerID != newer.ID {
		t.Errorf("tie broken to %s, want the more recent speaker %s", best.SpeakerID, newer.ID)
	}
}

func TestBestDimensionMismatch(t *testing.T) {
	store := ident.NewMemStore()
	seedSpeaker(t, store, "Alice", unitVec(0.9))

	_, _, err := ident.NewMatcher(store, 0).Best(context.Background(), []float32{1, 0})
	if !ident.IsDimensionError(err) {
		t.Errorf("err = %v, want DimensionError", err)
	}
}

func TestBestZeroQueryVector(t *testing.T) {
	store := ident.NewMemStore()
	alice := seedSpeaker(t, store, "Alice", unitVec(0.9))

	best, _, err := ident.NewMatcher(store, 0).Best(context.Background(), []float32{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best == nil || best.SpeakerID != alice.ID {
		t.Fatalf("best = %+v, want Alice with score 0", best)
	}
	if best.Score != 0 {
		t.Errorf("zero query score = %v, want 0", best.Score)
	}
}
