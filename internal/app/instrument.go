package app

import (
	"context"

	"github.com/auricle-labs/timbre/internal/observe"
	"github.com/auricle-labs/timbre/pkg/ident"
)

// instrumentedStore decorates an [ident.Store] with metric recording: scan
// sizes for the matcher's candidate loads and one adjustment count per
// confidence mutation, labelled by reason.
type instrumentedStore struct {
	ident.Store
	metrics *observe.Metrics
}

// instrumentedScanStore additionally forwards the optional
// [ident.CandidateScanner] capability, so wrapping a pgvector-backed store
// does not silently disable pre-ranked scans.
type instrumentedScanStore struct {
	*instrumentedStore
	scanner ident.CandidateScanner
}

var (
	_ ident.Store            = (*instrumentedStore)(nil)
	_ ident.CandidateScanner = (*instrumentedScanStore)(nil)
)

// instrument wraps store with metric recording, preserving the
// CandidateScanner capability when the underlying store has it.
func instrument(store ident.Store, m *observe.Metrics) ident.Store {
	base := &instrumentedStore{Store: store, metrics: m}
	if scanner, ok := store.(ident.CandidateScanner); ok {
		return &instrumentedScanStore{instrumentedStore: base, scanner: scanner}
	}
	return base
}

func (s *instrumentedStore) AllEmbeddings(ctx context.Context) ([]ident.Embedding, error) {
	embeddings, err := s.Store.AllEmbeddings(ctx)
	if err == nil {
		s.metrics.ScanSize.Record(ctx, int64(len(embeddings)))
	}
	return embeddings, err
}

func (s *instrumentedStore) UpdateConfidence(ctx context.Context, embeddingID string, reason ident.AdjustReason, adjust func(old float64) float64) (*ident.ConfidenceChange, error) {
	change, err := s.Store.UpdateConfidence(ctx, embeddingID, reason, adjust)
	if err == nil {
		s.metrics.RecordAdjustment(ctx, string(reason))
	}
	return change, err
}

func (s *instrumentedScanStore) NearestEmbeddings(ctx context.Context, query []float32, k int) ([]ident.Embedding, error) {
	embeddings, err := s.scanner.NearestEmbeddings(ctx, query, k)
	if err == nil {
		s.metrics.ScanSize.Record(ctx, int64(len(embeddings)))
	}
	return embeddings, err
}
