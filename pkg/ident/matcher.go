package ident

import (
	"context"
	"fmt"
	"math"
)

// Match is one ranked candidate produced by the [Matcher]: the best-scoring
// embedding of a single speaker.
type Match struct {
	// SpeakerID is the speaker owning the matched embedding.
	SpeakerID string

	// EmbeddingID is the stored embedding that produced Score.
	EmbeddingID string

	// Score is the cosine similarity between the query and the embedding.
	Score float64

	// Confidence is the matched embedding's stored confidence, used for
	// tie-breaking only — it does not influence Score.
	Confidence float64
}

// Matcher finds the best-matching speaker for a query vector by full-scan
// cosine similarity over a [Store] snapshot. It holds no state of its own
// beyond configuration and is safe for concurrent use.
//
// The match is per-speaker maximum: a speaker is represented by its single
// best-scoring embedding, never an average, so speakers with a few
// high-quality samples are not penalised against speakers with many noisy
// ones.
type Matcher struct {
	store Store

	// scanLimit caps how many embeddings one query scans. 0 means no cap.
	scanLimit int
}

// NewMatcher creates a [Matcher] over store. scanLimit bounds the number of
// embeddings scanned per query; 0 disables the cap. The full-scan ranking
// is the correctness contract — an index-backed store may pre-rank
// candidates but must reproduce this ordering.
func NewMatcher(store Store, scanLimit int) *Matcher {
	return &Matcher{store: store, scanLimit: scanLimit}
}

// CandidateScanner is an optional [Store] capability: return the k stored
// embeddings nearest to query by approximate vector distance. When a store
// implements it and a scan limit is configured, the [Matcher] scans only
// that candidate set and re-ranks it exactly in process — the result must
// match the full-scan ordering over the same candidates.
type CandidateScanner interface {
	NearestEmbeddings(ctx context.Context, query []float32, k int) ([]Embedding, error)
}

// Best returns the top-scoring match and, when present, the best match for
// a different speaker (the runner-up). Both are nil when the store holds no
// candidates — an empty store is not an error.
//
// Tie-break between equal scores: higher stored confidence wins, then the
// more recently created embedding, then the lexicographically smaller
// embedding ID. The ordering is total, so results are reproducible.
func (m *Matcher) Best(ctx context.Context, query []float32) (best, runnerUp *Match, err error) {
	var embeddings []Embedding
	if scanner, ok := m.store.(CandidateScanner); ok && m.scanLimit > 0 {
		embeddings, err = scanner.NearestEmbeddings(ctx, query, m.scanLimit)
	} else {
		embeddings, err = m.store.AllEmbeddings(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("matcher: load embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil, nil
	}
	if m.scanLimit > 0 && len(embeddings) > m.scanLimit {
		embeddings = embeddings[:m.scanLimit]
	}

	// Per-speaker best embedding.
	perSpeaker := make(map[string]Embedding, len(embeddings))
	scores := make(map[string]float64, len(embeddings))
	for _, emb := range embeddings {
		if len(emb.Vector) != len(query) {
			return nil, nil, &DimensionError{Want: len(emb.Vector), Got: len(query)}
		}
		score := CosineSimilarity(query, emb.Vector)
		cur, seen := perSpeaker[emb.SpeakerID]
		if !seen || betterMatch(score, emb, scores[emb.SpeakerID], cur) {
			perSpeaker[emb.SpeakerID] = emb
			scores[emb.SpeakerID] = score
		}
	}

	for speakerID, emb := range perSpeaker {
		candidate := &Match{
			SpeakerID:   speakerID,
			EmbeddingID: emb.ID,
			Score:       scores[speakerID],
			Confidence:  emb.Confidence,
		}
		switch {
		case best == nil || betterMatch(candidate.Score, emb, best.Score, bestOf(perSpeaker, best)):
			best, runnerUp = candidate, best
		case runnerUp == nil || betterMatch(candidate.Score, emb, runnerUp.Score, bestOf(perSpeaker, runnerUp)):
			runnerUp = candidate
		}
	}
	return best, runnerUp, nil
}

// bestOf returns the embedding backing a previously selected match.
func bestOf(perSpeaker map[string]Embedding, m *Match) Embedding {
	return perSpeaker[m.SpeakerID]
}

// betterMatch reports whether candidate (scoreA, a) outranks incumbent
// (scoreB, b) under the deterministic tie-break ordering.
func betterMatch(scoreA float64, a Embedding, scoreB float64, b Embedding) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CosineSimilarity computes dot(a,b) / (‖a‖·‖b‖) with float64 accumulation.
// A zero vector on either side yields 0.0 rather than NaN, so a degenerate
// embedding degrades the match instead of failing the request. Vectors must
// have equal length.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
