// Package mock provides a fault-injecting test double for [ident.Store].
//
// Rather than re-implementing the full store contract, [Store] delegates
// every call to an inner [ident.MemStore] and layers call recording plus
// per-method error injection on top. Tests configure failures by method
// name:
//
//	st := mock.NewStore()
//	st.FailWith("UpdateConfidence", errors.New("disk full"))
//
//	// exercise the system under test …
//
//	if got := st.CallCount("UpdateConfidence"); got != 1 {
//	    t.Errorf("expected 1 UpdateConfidence call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auricle-labs/timbre/pkg/ident"
)

// Compile-time interface check.
var _ ident.Store = (*Store)(nil)

// Call records one method invocation.
type Call struct {
	// Method is the interface method name.
	Method string

	// Args holds the non-context arguments, in order. Function arguments
	// (the UpdateConfidence closure) are omitted.
	Args []any
}

// Store is a delegating test double for [ident.Store]. Safe for concurrent
// use.
type Store struct {
	// Inner is the delegate holding real state. Exposed so tests can seed
	// it directly.
	Inner *ident.MemStore

	mu    sync.Mutex
	calls []Call
	fail  map[string]error
}

// NewStore creates a [Store] over a fresh [ident.MemStore].
func NewStore() *Store {
	return &Store{
		Inner: ident.NewMemStore(),
		fail:  make(map[string]error),
	}
}

// FailWith makes every subsequent call to the named method return err
// without touching the delegate. Passing a nil err clears the injection.
func (s *Store) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// Calls returns a copy of all recorded invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// record logs the call and returns the injected error, if any.
func (s *Store) record(method string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
	return s.fail[method]
}

// CreateSpeaker implements [ident.Store].
func (s *Store) CreateSpeaker(ctx context.Context, name string, metadata map[string]string) (*ident.Speaker, error) {
	if err := s.record("CreateSpeaker", name, metadata); err != nil {
		return nil, err
	}
	return s.Inner.CreateSpeaker(ctx, name, metadata)
}

// GetSpeaker implements [ident.Store].
func (s *Store) GetSpeaker(ctx context.Context, id string) (*ident.Speaker, error) {
	if err := s.record("GetSpeaker", id); err != nil {
		return nil, err
	}
	return s.Inner.GetSpeaker(ctx, id)
}

// UpdateSpeaker implements [ident.Store].
func (s *Store) UpdateSpeaker(ctx context.Context, id, name string, metadata map[string]string) (*ident.Speaker, error) {
	if err := s.record("UpdateSpeaker", id, name, metadata); err != nil {
		return nil, err
	}
	return s.Inner.UpdateSpeaker(ctx, id, name, metadata)
}

// ListSpeakers implements [ident.Store].
func (s *Store) ListSpeakers(ctx context.Context, nameQuery string) ([]ident.Speaker, error) {
	if err := s.record("ListSpeakers", nameQuery); err != nil {
		return nil, err
	}
	return s.Inner.ListSpeakers(ctx, nameQuery)
}

// DeleteSpeaker implements [ident.Store].
func (s *Store) DeleteSpeaker(ctx context.Context, id string) error {
	if err := s.record("DeleteSpeaker", id); err != nil {
		return err
	}
	return s.Inner.DeleteSpeaker(ctx, id)
}

// AddEmbedding implements [ident.Store].
func (s *Store) AddEmbedding(ctx context.Context, speakerID string, vector []float32, confidence float64, prov ident.Provenance) (*ident.Embedding, error) {
	if err := s.record("AddEmbedding", speakerID, vector, confidence, prov); err != nil {
		return nil, err
	}
	return s.Inner.AddEmbedding(ctx, speakerID, vector, confidence, prov)
}

// GetEmbedding implements [ident.Store].
func (s *Store) GetEmbedding(ctx context.Context, id string) (*ident.Embedding, error) {
	if err := s.record("GetEmbedding", id); err != nil {
		return nil, err
	}
	return s.Inner.GetEmbedding(ctx, id)
}

// ListEmbeddings implements [ident.Store].
func (s *Store) ListEmbeddings(ctx context.Context, speakerID string) ([]ident.Embedding, error) {
	if err := s.record("ListEmbeddings", speakerID); err != nil {
		return nil, err
	}
	return s.Inner.ListEmbeddings(ctx, speakerID)
}

// AllEmbeddings implements [ident.Store].
func (s *Store) AllEmbeddings(ctx context.Context) ([]ident.Embedding, error) {
	if err := s.record("AllEmbeddings"); err != nil {
		return nil, err
	}
	return s.Inner.AllEmbeddings(ctx)
}

// DeleteEmbedding implements [ident.Store].
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	if err := s.record("DeleteEmbedding", id); err != nil {
		return err
	}
	return s.Inner.DeleteEmbedding(ctx, id)
}

// UpdateConfidence implements [ident.Store].
func (s *Store) UpdateConfidence(ctx context.Context, embeddingID string, reason ident.AdjustReason, adjust func(old float64) float64) (*ident.ConfidenceChange, error) {
	if err := s.record("UpdateConfidence", embeddingID, reason); err != nil {
		return nil, err
	}
	return s.Inner.UpdateConfidence(ctx, embeddingID, reason, adjust)
}

// History implements [ident.Store].
func (s *Store) History(ctx context.Context, embeddingID string) ([]ident.ConfidenceChange, error) {
	if err := s.record("History", embeddingID); err != nil {
		return nil, err
	}
	return s.Inner.History(ctx, embeddingID)
}

// RecordEvent implements [ident.Store].
func (s *Store) RecordEvent(ctx context.Context, ev *ident.IdentificationEvent) error {
	if err := s.record("RecordEvent", ev.ID); err != nil {
		return err
	}
	return s.Inner.RecordEvent(ctx, ev)
}

// GetEvent implements [ident.Store].
func (s *Store) GetEvent(ctx context.Context, id string) (*ident.IdentificationEvent, error) {
	if err := s.record("GetEvent", id); err != nil {
		return nil, err
	}
	return s.Inner.GetEvent(ctx, id)
}

// MarkEventVerified implements [ident.Store].
func (s *Store) MarkEventVerified(ctx context.Context, id string) error {
	if err := s.record("MarkEventVerified", id); err != nil {
		return err
	}
	return s.Inner.MarkEventVerified(ctx, id)
}

// DecayCandidates implements [ident.Store].
func (s *Store) DecayCandidates(ctx context.Context, before time.Time) ([]ident.DecayCandidate, error) {
	if err := s.record("DecayCandidates", before); err != nil {
		return nil, err
	}
	return s.Inner.DecayCandidates(ctx, before)
}

// SpeakerStats implements [ident.Store].
func (s *Store) SpeakerStats(ctx context.Context, speakerID string) (*ident.SpeakerStats, error) {
	if err := s.record("SpeakerStats", speakerID); err != nil {
		return nil, err
	}
	return s.Inner.SpeakerStats(ctx, speakerID)
}

// Totals implements [ident.Store].
func (s *Store) Totals(ctx context.Context) (*ident.Overview, error) {
	if err := s.record("Totals"); err != nil {
		return nil, err
	}
	return s.Inner.Totals(ctx)
}
