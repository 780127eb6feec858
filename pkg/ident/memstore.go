package ident

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is the in-process [Store] implementation. It backs development
// deployments without a database and serves as the behavioural reference
// the PostgreSQL implementation is tested against.
//
// A single mutex guards all state; that trivially satisfies the
// per-embedding serialisation requirement for confidence updates. All
// methods are safe for concurrent use.
type MemStore struct {
	mu sync.Mutex

	speakers   map[string]*Speaker
	embeddings map[string]*Embedding

	// bySpeaker indexes embedding IDs by owning speaker for cascades and
	// per-speaker listings.
	bySpeaker map[string][]string

	events  map[string]*IdentificationEvent
	history map[string][]ConfidenceChange

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// NewMemStore creates an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		speakers:   make(map[string]*Speaker),
		embeddings: make(map[string]*Embedding),
		bySpeaker:  make(map[string][]string),
		events:     make(map[string]*IdentificationEvent),
		history:    make(map[string][]ConfidenceChange),
		now:        time.Now,
	}
}

// SetClock replaces the store's time source. Intended for tests that need
// deterministic timestamps; not safe to call concurrently with store use.
func (s *MemStore) SetClock(now func() time.Time) { s.now = now }

// CreateSpeaker implements [Store].
func (s *MemStore) CreateSpeaker(_ context.Context, name string, metadata map[string]string) (*Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sp := &Speaker{
		ID:        uuid.NewString(),
		Name:      name,
		Metadata:  cloneMeta(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.speakers[sp.ID] = sp
	return copySpeaker(sp), nil
}

// GetSpeaker implements [Store].
func (s *MemStore) GetSpeaker(_ context.Context, id string) (*Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.speakers[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindSpeaker, ID: id}
	}
	return copySpeaker(sp), nil
}

// UpdateSpeaker implements [Store].
func (s *MemStore) UpdateSpeaker(_ context.Context, id, name string, metadata map[string]string) (*Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.speakers[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindSpeaker, ID: id}
	}
	if name != "" {
		sp.Name = name
	}
	if len(metadata) > 0 {
		if sp.Metadata == nil {
			sp.Metadata = make(map[string]string, len(metadata))
		}
		maps.Copy(sp.Metadata, metadata)
	}
	sp.UpdatedAt = s.now()
	return copySpeaker(sp), nil
}

// ListSpeakers implements [Store].
func (s *MemStore) ListSpeakers(_ context.Context, nameQuery string) ([]Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(nameQuery)
	out := []Speaker{}
	for _, sp := range s.speakers {
		if q != "" && !strings.Contains(strings.ToLower(sp.Name), q) {
			continue
		}
		out = append(out, *copySpeaker(sp))
	}
	slices.SortFunc(out, func(a, b Speaker) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteSpeaker implements [Store]. The cascade removes the speaker's
// embeddings, their confidence history, and every identification event
// referencing the speaker.
func (s *MemStore) DeleteSpeaker(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.speakers[id]; !ok {
		return nil
	}
	for _, embID := range s.bySpeaker[id] {
		delete(s.embeddings, embID)
		delete(s.history, embID)
	}
	delete(s.bySpeaker, id)
	for evID, ev := range s.events {
		if ev.SpeakerID == id {
			delete(s.events, evID)
		}
	}
	delete(s.speakers, id)
	return nil
}

// AddEmbedding implements [Store].
func (s *MemStore) AddEmbedding(_ context.Context, speakerID string, vector []float32, confidence float64, prov Provenance) (*Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.speakers[speakerID]; !ok {
		return nil, &NotFoundError{Kind: KindSpeaker, ID: speakerID}
	}
	if confidence == 0 {
		confidence = InitialConfidence
	}
	emb := &Embedding{
		ID:         uuid.NewString(),
		SpeakerID:  speakerID,
		Vector:     slices.Clone(vector),
		Confidence: Clamp(confidence),
		Provenance: prov,
		CreatedAt:  s.now(),
	}
	s.embeddings[emb.ID] = emb
	s.bySpeaker[speakerID] = append(s.bySpeaker[speakerID], emb.ID)
	return copyEmbedding(emb), nil
}

// GetEmbedding implements [Store].
func (s *MemStore) GetEmbedding(_ context.Context, id string) (*Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emb, ok := s.embeddings[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindEmbedding, ID: id}
	}
	return copyEmbedding(emb), nil
}

// ListEmbeddings implements [Store]. Results are ordered by confidence
// descending — callers typically want the strongest samples first.
func (s *MemStore) ListEmbeddings(_ context.Context, speakerID string) ([]Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Embedding{}
	for _, embID := range s.bySpeaker[speakerID] {
		if emb, ok := s.embeddings[embID]; ok {
			out = append(out, *copyEmbedding(emb))
		}
	}
	slices.SortFunc(out, func(a, b Embedding) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// AllEmbeddings implements [Store].
func (s *MemStore) AllEmbeddings(_ context.Context) ([]Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Embedding, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		out = append(out, *copyEmbedding(emb))
	}
	return out, nil
}

// DeleteEmbedding implements [Store].
func (s *MemStore) DeleteEmbedding(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emb, ok := s.embeddings[id]
	if !ok {
		return nil
	}
	delete(s.embeddings, id)
	delete(s.history, id)
	ids := s.bySpeaker[emb.SpeakerID]
	s.bySpeaker[emb.SpeakerID] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	return nil
}

// UpdateConfidence implements [Store]. The global mutex serialises the
// read-modify-write, and the value mutation plus the history row are
// applied together.
func (s *MemStore) UpdateConfidence(_ context.Context, embeddingID string, reason AdjustReason, adjust func(old float64) float64) (*ConfidenceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emb, ok := s.embeddings[embeddingID]
	if !ok {
		return nil, &NotFoundError{Kind: KindEmbedding, ID: embeddingID}
	}
	change := ConfidenceChange{
		EmbeddingID: embeddingID,
		Old:         emb.Confidence,
		New:         Clamp(adjust(emb.Confidence)),
		Reason:      reason,
		At:          s.now(),
	}
	emb.Confidence = change.New
	s.history[embeddingID] = append(s.history[embeddingID], change)
	return &change, nil
}

// History implements [Store]. Rows are returned newest first.
func (s *MemStore) History(_ context.Context, embeddingID string) ([]ConfidenceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.history[embeddingID]
	out := make([]ConfidenceChange, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row
	}
	return out, nil
}

// RecordEvent implements [Store].
func (s *MemStore) RecordEvent(_ context.Context, ev *IdentificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	stored.QueryVector = slices.Clone(ev.QueryVector)
	s.events[stored.ID] = &stored
	return nil
}

// GetEvent implements [Store].
func (s *MemStore) GetEvent(_ context.Context, id string) (*IdentificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindEvent, ID: id}
	}
	out := *ev
	out.QueryVector = slices.Clone(ev.QueryVector)
	return &out, nil
}

// MarkEventVerified implements [Store].
func (s *MemStore) MarkEventVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return &NotFoundError{Kind: KindEvent, ID: id}
	}
	if ev.Verified {
		return ErrAlreadyVerified
	}
	ev.Verified = true
	return nil
}

// DecayCandidates implements [Store].
func (s *MemStore) DecayCandidates(_ context.Context, before time.Time) ([]DecayCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []DecayCandidate{}
	for _, emb := range s.embeddings {
		lastRef := emb.CreatedAt
		for _, ev := range s.events {
			if ev.EmbeddingID == emb.ID && ev.CreatedAt.After(lastRef) {
				lastRef = ev.CreatedAt
			}
		}
		if !lastRef.Before(before) {
			continue
		}
		applied := 0.0
		for _, row := range s.history[emb.ID] {
			if row.Reason == ReasonDecay && row.At.After(lastRef) {
				applied += row.Old - row.New
			}
		}
		out = append(out, DecayCandidate{
			Embedding:     *copyEmbedding(emb),
			LastReference: lastRef,
			DecayApplied:  applied,
		})
	}
	slices.SortFunc(out, func(a, b DecayCandidate) int {
		return strings.Compare(a.Embedding.ID, b.Embedding.ID)
	})
	return out, nil
}

// SpeakerStats implements [Store].
func (s *MemStore) SpeakerStats(_ context.Context, speakerID string) (*SpeakerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.speakers[speakerID]; !ok {
		return nil, &NotFoundError{Kind: KindSpeaker, ID: speakerID}
	}

	stats := &SpeakerStats{SpeakerID: speakerID}
	var sum float64
	for _, embID := range s.bySpeaker[speakerID] {
		emb, ok := s.embeddings[embID]
		if !ok {
			continue
		}
		if stats.EmbeddingCount == 0 {
			stats.MaxConfidence = emb.Confidence
			stats.MinConfidence = emb.Confidence
		} else {
			stats.MaxConfidence = max(stats.MaxConfidence, emb.Confidence)
			stats.MinConfidence = min(stats.MinConfidence, emb.Confidence)
		}
		sum += emb.Confidence
		stats.EmbeddingCount++
	}
	if stats.EmbeddingCount > 0 {
		stats.AvgConfidence = sum / float64(stats.EmbeddingCount)
	}
	for _, ev := range s.events {
		if ev.SpeakerID == speakerID && ev.CreatedAt.After(stats.LastMatchedAt) {
			stats.LastMatchedAt = ev.CreatedAt
		}
	}
	return stats, nil
}

// Totals implements [Store].
func (s *MemStore) Totals(_ context.Context) (*Overview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &Overview{
		SpeakerCount:   int64(len(s.speakers)),
		EmbeddingCount: int64(len(s.embeddings)),
		EventCount:     int64(len(s.events)),
	}
	if len(s.embeddings) > 0 {
		var sum float64
		for _, emb := range s.embeddings {
			sum += emb.Confidence
		}
		o.MeanConfidence = sum / float64(len(s.embeddings))
	}
	return o, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Copy helpers — callers must never observe internal state through aliasing.
// ─────────────────────────────────────────────────────────────────────────────

func copySpeaker(sp *Speaker) *Speaker {
	out := *sp
	out.Metadata = cloneMeta(sp.Metadata)
	return &out
}

func copyEmbedding(emb *Embedding) *Embedding {
	out := *emb
	out.Vector = slices.Clone(emb.Vector)
	return &out
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
