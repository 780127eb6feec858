package ident

import "time"

// Speaker is a named voice identity. Display names are not required to be
// unique — identity is carried by the opaque ID, which is generated at
// creation time and never changes.
type Speaker struct {
	// ID is the unique, stable identifier for this speaker (a UUID).
	ID string

	// Name is the human-readable display name. Mutable via the registry.
	Name string

	// Metadata holds free-form attributes attached to the speaker
	// (e.g., department, role, preferred language).
	Metadata map[string]string

	// CreatedAt is when the speaker was registered.
	CreatedAt time.Time

	// UpdatedAt is when the speaker's name or metadata last changed.
	UpdatedAt time.Time
}

// Provenance records where an embedding's audio sample came from.
// All fields are optional and purely informational.
type Provenance struct {
	// SourceFile is the audio file the sample was extracted from.
	SourceFile string

	// SegmentStart is the sample's start offset within SourceFile, in seconds.
	SegmentStart float64

	// SegmentEnd is the sample's end offset within SourceFile, in seconds.
	SegmentEnd float64
}

// Embedding is one biometric voice sample owned by exactly one speaker.
// Deleting the speaker deletes all of its embeddings.
type Embedding struct {
	// ID is the unique identifier for this embedding (a UUID).
	ID string

	// SpeakerID is the owning speaker. Never empty.
	SpeakerID string

	// Vector is the fixed-length voice embedding. All embeddings in one
	// store share the same dimensionality.
	Vector []float32

	// Confidence is the trust score for this sample, always within
	// [ConfidenceFloor, ConfidenceCeiling]. Mutated only through the
	// confidence-learning write path.
	Confidence float64

	// Provenance records the audio clip this vector was extracted from.
	Provenance Provenance

	// CreatedAt is when the sample was stored. Input to the decay rule.
	CreatedAt time.Time
}

// Tier is the decision class assigned to a similarity score.
type Tier string

const (
	// TierAuto assigns the matched speaker automatically.
	TierAuto Tier = "auto"

	// TierSuggested surfaces the match as a suggestion requiring explicit
	// confirmation.
	TierSuggested Tier = "suggested"

	// TierUncertain flags the segment for manual review; the candidate may
	// still be shown as a soft hint.
	TierUncertain Tier = "uncertain"

	// TierUnknown means no reliable match was found.
	TierUnknown Tier = "unknown"
)

// EventKind distinguishes how an identification event came to exist.
type EventKind string

const (
	// KindAutomatic marks an event produced by an Identify call.
	KindAutomatic EventKind = "automatic"

	// KindManual marks an event produced by a human correction.
	KindManual EventKind = "manual"
)

// QueryContext carries opaque correlation keys from the caller so an
// identification event can be traced back to the transcription job and
// segment that triggered it.
type QueryContext struct {
	// JobID is the transcription job identifier.
	JobID string

	// SegmentID is the diarized segment identifier within the job.
	SegmentID string
}

// IdentificationEvent is the immutable audit record of one matching attempt.
// The tier and score are fixed at decision time and never retroactively
// changed when confidence later shifts.
type IdentificationEvent struct {
	// ID is the unique identifier for this event (a UUID).
	ID string

	// SpeakerID is the matched speaker. Empty when no match was found.
	SpeakerID string

	// EmbeddingID is the stored embedding that produced the best score.
	// Empty when the store held no candidates.
	EmbeddingID string

	// Context carries the caller's correlation keys.
	Context QueryContext

	// QueryVector is the vector that was matched. Retained so that later
	// feedback can register the sample under a corrected speaker.
	QueryVector []float32

	// Score is the cosine similarity of the best match at decision time.
	Score float64

	// Tier is the decision class derived from Score.
	Tier Tier

	// Kind records whether the event came from matching or a manual correction.
	Kind EventKind

	// Verified flips to true exactly once, when feedback for this event
	// is submitted.
	Verified bool

	// CreatedAt is when the matching attempt happened.
	CreatedAt time.Time
}

// AdjustReason labels a confidence mutation in the audit trail.
type AdjustReason string

const (
	// ReasonCorrect is a user-confirmed correct match.
	ReasonCorrect AdjustReason = "correct"

	// ReasonIncorrect is a user-rejected match.
	ReasonIncorrect AdjustReason = "incorrect"

	// ReasonManualVerify is an explicit human attribution outside the
	// feedback flow.
	ReasonManualVerify AdjustReason = "manual_verify"

	// ReasonManualReject is an explicit human rejection outside the
	// feedback flow.
	ReasonManualReject AdjustReason = "manual_reject"

	// ReasonDecay is an age-based reduction applied by the sweeper.
	ReasonDecay AdjustReason = "decay"
)

// IsValid reports whether r is a recognised adjustment reason.
func (r AdjustReason) IsValid() bool {
	switch r {
	case ReasonCorrect, ReasonIncorrect, ReasonManualVerify, ReasonManualReject, ReasonDecay:
		return true
	}
	return false
}

// ConfidenceChange is one append-only audit row recording a confidence
// mutation on an embedding.
type ConfidenceChange struct {
	// EmbeddingID is the embedding whose confidence changed.
	EmbeddingID string

	// Old is the confidence before the adjustment.
	Old float64

	// New is the confidence after the adjustment (already clamped).
	New float64

	// Reason labels why the adjustment happened.
	Reason AdjustReason

	// At is when the adjustment was applied.
	At time.Time
}

// Candidate is a compact speaker reference surfaced in a [Decision].
type Candidate struct {
	// SpeakerID identifies the candidate speaker.
	SpeakerID string `json:"speaker_id"`

	// Name is the candidate's display name at decision time.
	Name string `json:"name"`

	// Confidence is the cosine similarity supporting this candidate.
	Confidence float64 `json:"confidence"`
}

// Decision is the outcome of one Identify call.
//
// Identified is true only for [TierAuto]. For [TierSuggested] and
// [TierUncertain] the candidate is carried in Suggested instead. For
// [TierUnknown] both SpeakerID and Suggested are empty.
type Decision struct {
	// EventID references the audit event recorded for this call, so that
	// feedback can address it later.
	EventID string `json:"event_id"`

	// Identified is true when the match is trusted enough to auto-assign.
	Identified bool `json:"identified"`

	// SpeakerID and SpeakerName describe the auto-assigned speaker.
	// Both are empty unless Identified is true.
	SpeakerID   string `json:"speaker_id,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`

	// Confidence is the similarity score of the best match, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Tier is the decision class for Confidence.
	Tier Tier `json:"decision_tier"`

	// Suggested carries the candidate for suggested and uncertain tiers.
	Suggested *Candidate `json:"suggested_speaker,omitempty"`

	// RunnerUp is populated when a different speaker scored within the
	// configured ambiguity margin of the winner — a hint that two enrolled
	// voices may be hard to tell apart. Identification semantics are
	// unaffected.
	RunnerUp *Candidate `json:"runner_up,omitempty"`

	// Ambiguous is true when RunnerUp is populated.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// FeedbackRequest addresses a verification outcome at the engine.
// Exactly one of EventID or EmbeddingID should be set; EventID is preferred
// because only an event carries the query vector needed to enrol a sample
// under a corrected speaker.
type FeedbackRequest struct {
	// EventID references the identification event being verified.
	EventID string `json:"event_id,omitempty"`

	// EmbeddingID addresses a stored embedding directly, without an event.
	EmbeddingID string `json:"embedding_id,omitempty"`

	// Agrees is true when the user confirms the match was correct.
	Agrees bool `json:"agrees"`

	// CorrectedName names the true speaker when Agrees is false.
	// Empty means the user rejected the match without supplying a name.
	CorrectedName string `json:"corrected_name,omitempty"`
}

// FeedbackResult reports what the learning loop did with one feedback
// submission.
type FeedbackResult struct {
	// Success is true when the feedback was applied.
	Success bool `json:"success"`

	// Message is a human-readable summary of the applied adjustments.
	Message string `json:"message"`

	// NewSpeakerCreated is true when a brand-new speaker was registered
	// from a corrected name.
	NewSpeakerCreated bool `json:"new_speaker_created"`
}

// SpeakerStats is the per-speaker statistics roll-up.
type SpeakerStats struct {
	// SpeakerID identifies the speaker.
	SpeakerID string `json:"speaker_id"`

	// EmbeddingCount is the number of stored samples.
	EmbeddingCount int `json:"embedding_count"`

	// AvgConfidence, MaxConfidence and MinConfidence summarise the stored
	// samples' confidence scores. All are 0 when no embeddings exist.
	AvgConfidence float64 `json:"avg_confidence"`
	MaxConfidence float64 `json:"max_confidence"`
	MinConfidence float64 `json:"min_confidence"`

	// LastMatchedAt is the creation time of the most recent identification
	// event referencing this speaker. Zero when the speaker was never matched.
	LastMatchedAt time.Time `json:"last_matched_at,omitzero"`
}

// Overview is the engine-wide statistics roll-up.
type Overview struct {
	// SpeakerCount is the number of registered speakers.
	SpeakerCount int64 `json:"speaker_count"`

	// EmbeddingCount is the total number of stored samples.
	EmbeddingCount int64 `json:"embedding_count"`

	// EventCount is the total number of identification events.
	EventCount int64 `json:"event_count"`

	// MeanConfidence is the mean confidence across all embeddings.
	// 0 when the store is empty.
	MeanConfidence float64 `json:"mean_confidence"`
}

// DecayCandidate is one embedding eligible for the decay sweep, together
// with the reference point decay is measured from.
type DecayCandidate struct {
	// Embedding is the stale sample.
	Embedding Embedding

	// LastReference is the later of the embedding's creation time and the
	// newest identification event touching it.
	LastReference time.Time

	// DecayApplied is the total confidence already removed by decay rows
	// recorded after LastReference. The sweeper applies only the difference
	// between the age band and this value, so repeated sweeps are
	// idempotent within a band.
	DecayApplied float64
}
