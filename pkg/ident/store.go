// Package ident implements the speaker identification and
// confidence-learning engine used by the Timbre transcription service.
//
// The package is organised around a small number of collaborating parts:
//
//   - [Store]: durable repository of speakers, embeddings and the two
//     append-only audit trails (identification events, confidence history).
//     [MemStore] is the in-process implementation; package
//     [github.com/auricle-labs/timbre/pkg/ident/postgres] provides the
//     PostgreSQL + pgvector implementation.
//   - [Matcher]: full-scan cosine similarity search over a store snapshot.
//   - [Thresholds]: the stateless mapping from similarity score to
//     decision tier.
//   - [Engine]: the facade tying matching, decisions and the feedback
//     learning loop together.
//   - [Sweeper]: the periodic time-decay maintenance job.
//
// All implementations must be safe for concurrent use.
package ident

import (
	"context"
	"time"
)

// Store is the durable repository backing the identification engine.
//
// Mutations are durable before the call returns. Confidence is mutated only
// through [Store.UpdateConfidence], which serialises per-embedding
// read-modify-write cycles and appends the audit row in the same atomic
// unit — if either write fails, neither is applied.
type Store interface {
	// CreateSpeaker registers a new speaker. Duplicate display names are
	// allowed; identity is carried by the generated ID.
	CreateSpeaker(ctx context.Context, name string, metadata map[string]string) (*Speaker, error)

	// GetSpeaker retrieves a speaker by ID.
	// Returns a [NotFoundError] when the speaker does not exist.
	GetSpeaker(ctx context.Context, id string) (*Speaker, error)

	// UpdateSpeaker renames a speaker and/or merges metadata. An empty name
	// leaves the current name unchanged; keys present in metadata overwrite
	// existing values, absent keys are left alone.
	// Returns a [NotFoundError] when the speaker does not exist.
	UpdateSpeaker(ctx context.Context, id, name string, metadata map[string]string) (*Speaker, error)

	// ListSpeakers returns all speakers ordered by creation time. A non-empty
	// nameQuery restricts results to names containing the query
	// (case-insensitive). Returns an empty (non-nil) slice when none match.
	ListSpeakers(ctx context.Context, nameQuery string) ([]Speaker, error)

	// DeleteSpeaker removes a speaker and cascades to its embeddings,
	// identification events, and confidence history. Deleting a non-existent
	// speaker is not an error.
	DeleteSpeaker(ctx context.Context, id string) error

	// AddEmbedding stores a new voice sample for a speaker. confidence 0
	// selects the default initial confidence for an unverified sample.
	// Returns a [NotFoundError] when the speaker does not exist.
	AddEmbedding(ctx context.Context, speakerID string, vector []float32, confidence float64, prov Provenance) (*Embedding, error)

	// GetEmbedding retrieves an embedding by ID.
	// Returns a [NotFoundError] when the embedding does not exist.
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)

	// ListEmbeddings returns a speaker's embeddings ordered by confidence
	// descending. Returns an empty (non-nil) slice when the speaker has no
	// samples or does not exist.
	ListEmbeddings(ctx context.Context, speakerID string) ([]Embedding, error)

	// AllEmbeddings returns a flat snapshot of every stored embedding, for
	// matching. The snapshot may be slightly stale under concurrent writes.
	AllEmbeddings(ctx context.Context) ([]Embedding, error)

	// DeleteEmbedding removes a single embedding and its confidence history.
	// Deleting a non-existent embedding is not an error.
	DeleteEmbedding(ctx context.Context, id string) error

	// UpdateConfidence applies adjust to the embedding's current confidence
	// under a per-embedding lock, clamps the result to
	// [ConfidenceFloor, ConfidenceCeiling], and appends the audit row in the
	// same atomic unit. The returned change reports the old and new values.
	// Returns a [NotFoundError] when the embedding does not exist.
	UpdateConfidence(ctx context.Context, embeddingID string, reason AdjustReason, adjust func(old float64) float64) (*ConfidenceChange, error)

	// History returns the confidence audit trail for an embedding, newest
	// first. Returns an empty (non-nil) slice when no rows exist.
	History(ctx context.Context, embeddingID string) ([]ConfidenceChange, error)

	// RecordEvent appends an identification event to the audit trail.
	RecordEvent(ctx context.Context, ev *IdentificationEvent) error

	// GetEvent retrieves an identification event by ID.
	// Returns a [NotFoundError] when the event does not exist.
	GetEvent(ctx context.Context, id string) (*IdentificationEvent, error)

	// MarkEventVerified flips the event's verified flag. Returns
	// [ErrAlreadyVerified] when the flag is already set and a
	// [NotFoundError] when the event does not exist.
	MarkEventVerified(ctx context.Context, id string) error

	// DecayCandidates returns every embedding whose last reference — the
	// later of its creation time and the newest identification event
	// touching it — predates before, together with the decay already
	// applied since that reference.
	DecayCandidates(ctx context.Context, before time.Time) ([]DecayCandidate, error)

	// SpeakerStats returns the statistics roll-up for one speaker.
	// Returns a [NotFoundError] when the speaker does not exist.
	SpeakerStats(ctx context.Context, speakerID string) (*SpeakerStats, error)

	// Totals returns the engine-wide statistics roll-up.
	Totals(ctx context.Context) (*Overview, error)
}
