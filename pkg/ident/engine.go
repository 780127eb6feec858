package ident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auricle-labs/timbre/pkg/ident/namematch"
)

// defaultMaxSamplesPerSpeaker caps how many embeddings the retention policy
// will accumulate per speaker from confirmed matches.
const defaultMaxSamplesPerSpeaker = 10

// Engine is the identification facade: it matches query vectors against the
// store, classifies results into decision tiers, records the audit trail,
// and applies the confidence-learning loop to user feedback.
//
// Engine is the exclusive owner of the confidence write path — no other
// component mutates confidence or its history. Safe for concurrent use.
type Engine struct {
	store      Store
	matcher    *Matcher
	thresholds Thresholds
	bus        *Bus

	// dims is the fixed embedding dimensionality. Queries of any other
	// length are rejected with a [DimensionError].
	dims int

	// ambiguityMargin is the score distance within which a runner-up from
	// a different speaker flags the decision as ambiguous.
	ambiguityMargin float64

	// maxSamples caps per-speaker embeddings accumulated by the retention
	// policy. 0 disables retention of confirmed query vectors.
	maxSamples int

	// resolver resolves corrected names against enrolled speakers.
	// Nil means exact matching only.
	resolver *namematch.Resolver

	now func() time.Time
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithThresholds overrides the default decision tier boundaries.
func WithThresholds(t Thresholds) EngineOption {
	return func(e *Engine) { e.thresholds = t }
}

// WithScanLimit caps the number of embeddings scanned per Identify call.
// 0 (the default) scans the full store.
func WithScanLimit(n int) EngineOption {
	return func(e *Engine) { e.matcher = NewMatcher(e.store, n) }
}

// WithAmbiguityMargin sets the score distance within which a close second
// speaker is surfaced as a runner-up. Default: 0.02.
func WithAmbiguityMargin(margin float64) EngineOption {
	return func(e *Engine) { e.ambiguityMargin = margin }
}

// WithMaxSamplesPerSpeaker caps the retention policy. 0 disables persisting
// confirmed query vectors as extra samples.
func WithMaxSamplesPerSpeaker(n int) EngineOption {
	return func(e *Engine) { e.maxSamples = n }
}

// WithNameResolver injects the phonetic/fuzzy resolver used for corrected
// speaker names. Passing nil restricts resolution to exact matches.
func WithNameResolver(r *namematch.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithClock replaces the engine's time source, for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an [Engine] over store for vectors of the given
// dimensionality.
func NewEngine(store Store, dims int, opts ...EngineOption) *Engine {
	e := &Engine{
		store:           store,
		matcher:         NewMatcher(store, 0),
		thresholds:      DefaultThresholds(),
		bus:             NewBus(),
		dims:            dims,
		ambiguityMargin: 0.02,
		maxSamples:      defaultMaxSamplesPerSpeaker,
		resolver:        namematch.New(),
		now:             time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bus returns the engine's event bus for live activity subscribers.
func (e *Engine) Bus() *Bus { return e.bus }

// Thresholds returns the tier boundaries in effect.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Dimensions returns the fixed embedding dimensionality.
func (e *Engine) Dimensions() int { return e.dims }

// ─────────────────────────────────────────────────────────────────────────────
// Identify
// ─────────────────────────────────────────────────────────────────────────────

// Identify matches query against the store and returns a classified
// [Decision]. Every call records an identification event, whatever the
// tier — "unknown speaker" is a well-formed outcome, not an error.
func (e *Engine) Identify(ctx context.Context, query []float32, qctx QueryContext) (*Decision, error) {
	if len(query) != e.dims {
		return nil, &DimensionError{Want: e.dims, Got: len(query)}
	}

	best, runnerUp, err := e.matcher.Best(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}

	decision := &Decision{Tier: TierUnknown}
	ev := &IdentificationEvent{
		ID:          uuid.NewString(),
		Context:     qctx,
		QueryVector: query,
		Tier:        TierUnknown,
		Kind:        KindAutomatic,
		CreatedAt:   e.now(),
	}

	if best != nil {
		tier := e.thresholds.Classify(best.Score)
		decision.Confidence = best.Score
		decision.Tier = tier
		ev.Score = best.Score
		ev.Tier = tier

		if tier != TierUnknown {
			sp, err := e.store.GetSpeaker(ctx, best.SpeakerID)
			if err != nil {
				return nil, fmt.Errorf("identify: resolve matched speaker: %w", err)
			}
			ev.SpeakerID = best.SpeakerID
			ev.EmbeddingID = best.EmbeddingID

			if tier == TierAuto {
				decision.Identified = true
				decision.SpeakerID = sp.ID
				decision.SpeakerName = sp.Name
			} else {
				decision.Suggested = &Candidate{
					SpeakerID:  sp.ID,
					Name:       sp.Name,
					Confidence: best.Score,
				}
			}

			if runnerUp != nil && best.Score-runnerUp.Score <= e.ambiguityMargin {
				if other, err := e.store.GetSpeaker(ctx, runnerUp.SpeakerID); err == nil {
					decision.RunnerUp = &Candidate{
						SpeakerID:  other.ID,
						Name:       other.Name,
						Confidence: runnerUp.Score,
					}
					decision.Ambiguous = true
				}
			}
		}
	}

	if err := e.store.RecordEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("identify: record event: %w", err)
	}
	decision.EventID = ev.ID

	e.bus.Publish(BusEvent{
		Topic:     TopicIdentification,
		At:        ev.CreatedAt,
		SpeakerID: ev.SpeakerID,
		Tier:      ev.Tier,
		Score:     ev.Score,
	})
	return decision, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Register
// ─────────────────────────────────────────────────────────────────────────────

// Register enrols a new speaker from an explicit, human-attributed sample.
// This is the only path that creates a first embedding at
// [VerifiedConfidence].
func (e *Engine) Register(ctx context.Context, name string, vector []float32, metadata map[string]string, prov Provenance) (*Speaker, *Embedding, error) {
	if len(vector) != e.dims {
		return nil, nil, &DimensionError{Want: e.dims, Got: len(vector)}
	}
	if name == "" {
		return nil, nil, fmt.Errorf("register: name must not be empty")
	}

	sp, err := e.store.CreateSpeaker(ctx, name, metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("register: create speaker: %w", err)
	}
	emb, err := e.store.AddEmbedding(ctx, sp.ID, vector, VerifiedConfidence, prov)
	if err != nil {
		return nil, nil, fmt.Errorf("register: add embedding: %w", err)
	}
	slog.Info("speaker registered", "speaker_id", sp.ID, "name", sp.Name)
	return sp, emb, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Feedback — the confidence-learning loop
// ─────────────────────────────────────────────────────────────────────────────

// Feedback applies one user verification to the store. Agreement reinforces
// the matched embedding (with streak bonuses tracked through the confidence
// history); rejection penalises it and, when the true speaker is named,
// reinforces or enrols a sample for that speaker. All confidence mutations
// go through [Store.UpdateConfidence], so value and audit row land as one
// atomic unit.
func (e *Engine) Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error) {
	var (
		ev          *IdentificationEvent
		embeddingID = req.EmbeddingID
		err         error
	)

	switch {
	case req.EventID != "":
		ev, err = e.store.GetEvent(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
		if ev.Verified {
			return nil, ErrAlreadyVerified
		}
		embeddingID = ev.EmbeddingID
	case req.EmbeddingID == "":
		return nil, ErrNoReference
	}

	var result *FeedbackResult
	if req.Agrees {
		result, err = e.applyAgreement(ctx, ev, embeddingID)
	} else {
		result, err = e.applyRejection(ctx, ev, embeddingID, req.CorrectedName)
	}
	if err != nil {
		return nil, err
	}

	if ev != nil {
		if err := e.store.MarkEventVerified(ctx, ev.ID); err != nil {
			return nil, fmt.Errorf("feedback: mark verified: %w", err)
		}
	}

	e.bus.Publish(BusEvent{
		Topic:  TopicFeedback,
		At:     e.now(),
		Detail: result.Message,
	})
	return result, nil
}

// applyAgreement handles a confirmed-correct match.
func (e *Engine) applyAgreement(ctx context.Context, ev *IdentificationEvent, embeddingID string) (*FeedbackResult, error) {
	if embeddingID == "" {
		return nil, fmt.Errorf("feedback: event has no matched embedding to confirm")
	}

	streak, err := e.correctStreak(ctx, embeddingID)
	if err != nil {
		return nil, err
	}
	streak++ // include the confirmation being applied now

	change, err := e.store.UpdateConfidence(ctx, embeddingID, ReasonCorrect, func(old float64) float64 {
		return Adjust(old, ReasonCorrect, streak)
	})
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("confidence %.2f → %.2f", change.Old, change.New)
	if bonus := streakBonus(streak); bonus > 0 {
		msg += fmt.Sprintf(" (streak of %d, +%.2f bonus)", streak, bonus)
	}

	// Retention policy: a confirmed match is a usable extra sample.
	if ev != nil && e.maxSamples > 0 && len(ev.QueryVector) == e.dims {
		if err := e.retainSample(ctx, ev); err != nil {
			slog.Warn("sample retention skipped", "event_id", ev.ID, "err", err)
		}
	}

	return &FeedbackResult{Success: true, Message: msg}, nil
}

// retainSample persists a confirmed event's query vector as an extra sample
// for the matched speaker, subject to the per-speaker cap.
func (e *Engine) retainSample(ctx context.Context, ev *IdentificationEvent) error {
	stats, err := e.store.SpeakerStats(ctx, ev.SpeakerID)
	if err != nil {
		return err
	}
	if stats.EmbeddingCount >= e.maxSamples {
		return nil
	}
	_, err = e.store.AddEmbedding(ctx, ev.SpeakerID, ev.QueryVector, InitialConfidence, Provenance{
		SourceFile: ev.Context.JobID,
	})
	return err
}

// applyRejection handles a rejected match, optionally rerouting the sample
// to the corrected speaker.
func (e *Engine) applyRejection(ctx context.Context, ev *IdentificationEvent, embeddingID, correctedName string) (*FeedbackResult, error) {
	result := &FeedbackResult{Success: true}

	if embeddingID != "" {
		change, err := e.store.UpdateConfidence(ctx, embeddingID, ReasonIncorrect, func(old float64) float64 {
			return Adjust(old, ReasonIncorrect, 0)
		})
		if err != nil {
			return nil, err
		}
		result.Message = fmt.Sprintf("rejected match penalised %.2f → %.2f", change.Old, change.New)
	} else {
		result.Message = "rejection recorded"
	}

	if correctedName == "" {
		return result, nil
	}

	sp, created, err := e.resolveOrCreateSpeaker(ctx, correctedName)
	if err != nil {
		return nil, err
	}
	result.NewSpeakerCreated = created

	if ev == nil || len(ev.QueryVector) != e.dims {
		result.Message += fmt.Sprintf("; corrected to %q, but no query vector is available to enrol a sample", sp.Name)
		return result, nil
	}

	if err := e.rerouteSample(ctx, sp, created, ev, result); err != nil {
		return nil, err
	}

	// Document the correction as a manual, pre-verified event so the audit
	// trail shows who this segment really was.
	correction := &IdentificationEvent{
		ID:          uuid.NewString(),
		SpeakerID:   sp.ID,
		Context:     ev.Context,
		QueryVector: ev.QueryVector,
		Score:       0,
		Tier:        TierUnknown,
		Kind:        KindManual,
		Verified:    true,
		CreatedAt:   e.now(),
	}
	if err := e.store.RecordEvent(ctx, correction); err != nil {
		return nil, fmt.Errorf("feedback: record correction event: %w", err)
	}
	return result, nil
}

// rerouteSample reinforces a near-miss embedding of the corrected speaker,
// or enrols the query vector as a new sample when none qualifies.
func (e *Engine) rerouteSample(ctx context.Context, sp *Speaker, created bool, ev *IdentificationEvent, result *FeedbackResult) error {
	if !created {
		if nearMiss, score, err := e.bestNearMiss(ctx, sp.ID, ev.QueryVector); err != nil {
			return err
		} else if nearMiss != "" {
			change, err := e.store.UpdateConfidence(ctx, nearMiss, ReasonCorrect, func(old float64) float64 {
				return Reinforce(old)
			})
			if err != nil {
				return err
			}
			result.Message += fmt.Sprintf("; reinforced %q near-miss (similarity %.2f) %.2f → %.2f",
				sp.Name, score, change.Old, change.New)
			return nil
		}
	}

	_, err := e.store.AddEmbedding(ctx, sp.ID, ev.QueryVector, CorrectedConfidence, Provenance{
		SourceFile: ev.Context.JobID,
	})
	if err != nil {
		return fmt.Errorf("feedback: enrol corrected sample: %w", err)
	}
	result.Message += fmt.Sprintf("; enrolled sample for %q", sp.Name)
	return nil
}

// bestNearMiss returns the corrected speaker's embedding most similar to
// the query vector, provided the similarity reaches the uncertain
// threshold. Returns an empty ID when none qualifies.
func (e *Engine) bestNearMiss(ctx context.Context, speakerID string, query []float32) (embeddingID string, score float64, err error) {
	embeddings, err := e.store.ListEmbeddings(ctx, speakerID)
	if err != nil {
		return "", 0, err
	}
	for _, emb := range embeddings {
		if len(emb.Vector) != len(query) {
			continue
		}
		if s := CosineSimilarity(query, emb.Vector); s > score {
			embeddingID, score = emb.ID, s
		}
	}
	if score < e.thresholds.Uncertain {
		return "", 0, nil
	}
	return embeddingID, score, nil
}

// resolveOrCreateSpeaker finds the enrolled speaker matching name — exactly
// or, when the resolver allows, phonetically — and creates one when none
// matches.
func (e *Engine) resolveOrCreateSpeaker(ctx context.Context, name string) (*Speaker, bool, error) {
	speakers, err := e.store.ListSpeakers(ctx, "")
	if err != nil {
		return nil, false, fmt.Errorf("feedback: list speakers: %w", err)
	}

	if len(speakers) > 0 && e.resolver != nil {
		names := make([]string, len(speakers))
		for i, sp := range speakers {
			names[i] = sp.Name
		}
		if idx, score := e.resolver.Resolve(name, names); idx >= 0 {
			if score < 1.0 {
				slog.Info("corrected name resolved fuzzily",
					"input", name, "resolved", speakers[idx].Name, "score", score)
			}
			return &speakers[idx], false, nil
		}
	} else {
		for i := range speakers {
			if strings.EqualFold(speakers[i].Name, name) {
				return &speakers[i], false, nil
			}
		}
	}

	sp, err := e.store.CreateSpeaker(ctx, name, nil)
	if err != nil {
		return nil, false, fmt.Errorf("feedback: create speaker %q: %w", name, err)
	}
	slog.Info("speaker created from feedback correction", "speaker_id", sp.ID, "name", name)
	return sp, true, nil
}

// correctStreak counts consecutive correct confirmations for an embedding,
// walking the history newest-first. Decay rows do not interact with
// feedback and are skipped; any other reason breaks the run.
func (e *Engine) correctStreak(ctx context.Context, embeddingID string) (int, error) {
	rows, err := e.store.History(ctx, embeddingID)
	if err != nil {
		return 0, fmt.Errorf("feedback: load history: %w", err)
	}
	streak := 0
	for _, row := range rows {
		switch row.Reason {
		case ReasonCorrect, ReasonManualVerify:
			streak++
		case ReasonDecay:
			continue
		default:
			return streak, nil
		}
	}
	return streak, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry passthroughs
// ─────────────────────────────────────────────────────────────────────────────

// Speakers lists enrolled speakers, optionally filtered by a name query.
func (e *Engine) Speakers(ctx context.Context, nameQuery string) ([]Speaker, error) {
	return e.store.ListSpeakers(ctx, nameQuery)
}

// Speaker retrieves one speaker by ID.
func (e *Engine) Speaker(ctx context.Context, id string) (*Speaker, error) {
	return e.store.GetSpeaker(ctx, id)
}

// UpdateSpeaker renames a speaker and/or merges metadata.
func (e *Engine) UpdateSpeaker(ctx context.Context, id, name string, metadata map[string]string) (*Speaker, error) {
	return e.store.UpdateSpeaker(ctx, id, name, metadata)
}

// DeleteSpeaker removes a speaker and all of its embeddings, events and
// confidence history.
func (e *Engine) DeleteSpeaker(ctx context.Context, id string) error {
	return e.store.DeleteSpeaker(ctx, id)
}

// Embeddings lists a speaker's stored samples, strongest first.
func (e *Engine) Embeddings(ctx context.Context, speakerID string) ([]Embedding, error) {
	return e.store.ListEmbeddings(ctx, speakerID)
}

// Event retrieves one identification event by ID.
func (e *Engine) Event(ctx context.Context, id string) (*IdentificationEvent, error) {
	return e.store.GetEvent(ctx, id)
}

// Stats returns the per-speaker statistics roll-up.
func (e *Engine) Stats(ctx context.Context, speakerID string) (*SpeakerStats, error) {
	return e.store.SpeakerStats(ctx, speakerID)
}

// Overview returns the engine-wide statistics roll-up.
func (e *Engine) Overview(ctx context.Context) (*Overview, error) {
	return e.store.Totals(ctx)
}
