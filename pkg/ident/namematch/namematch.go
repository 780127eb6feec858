// Package namematch resolves free-text speaker names against the registry
// using Double Metaphone phonetic encoding and Jaro-Winkler similarity.
//
// Feedback corrections arrive as typed (or transcribed) names: "Jon Smyth"
// should find the enrolled speaker "John Smith" rather than spawning a
// duplicate identity. Resolution proceeds in two stages:
//
//  1. Exact match (case-insensitive) always wins.
//  2. Among candidates sharing at least one Double Metaphone code with the
//     query, the highest Jaro-Winkler score above the phonetic threshold is
//     selected. When no candidate overlaps phonetically, a pure
//     Jaro-Winkler pass with a stricter fuzzy threshold is tried.
//
// Multi-word names are handled by comparing full strings, space-stripped
// strings, and the best pairwise token score. The resolver is read-only
// after construction and safe for concurrent use.
package namematch

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option configures a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically overlapping candidate. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// candidate overlaps phonetically. Default: 0.90. The fuzzy bar is
// deliberately strict: a wrong resolution silently mis-attributes voice
// samples, while a missed resolution merely creates a speaker the operator
// can merge later.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = threshold }
}

// Resolver matches a queried name against a set of known speaker names.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Resolver] configured with the supplied options.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the index into candidates of the best match for name,
// together with the similarity score backing it. Returns (-1, 0) when no
// candidate clears the applicable threshold.
//
// An exact case-insensitive match is returned immediately with score 1.0.
func (r *Resolver) Resolve(name string, candidates []string) (index int, score float64) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" || len(candidates) == 0 {
		return -1, 0
	}
	queryTokens := strings.Fields(query)
	queryCodes := codesFor(queryTokens)

	bestIdx, bestScore, bestPhonetic := -1, 0.0, false
	for i, cand := range candidates {
		candLower := strings.ToLower(strings.TrimSpace(cand))
		if candLower == "" {
			continue
		}
		if candLower == query {
			return i, 1.0
		}
		candTokens := strings.Fields(candLower)
		phonetic := overlap(queryCodes, codesFor(candTokens))
		jw := bestSimilarity(queryTokens, candTokens, query, candLower)

		switch {
		case phonetic && jw >= r.phoneticThreshold:
			if !bestPhonetic || jw > bestScore {
				bestIdx, bestScore, bestPhonetic = i, jw, true
			}
		case !phonetic && !bestPhonetic && jw >= r.fuzzyThreshold && jw > bestScore:
			bestIdx, bestScore = i, jw
		}
	}
	if bestIdx < 0 {
		return -1, 0
	}
	return bestIdx, bestScore
}

// codesFor returns the union of Double Metaphone codes for the tokens.
// Empty codes are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// overlap reports whether the two code sets share at least one code.
func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between the query
// and candidate across three comparison strategies: full strings,
// space-stripped strings, and the best pairwise token score.
func bestSimilarity(queryTokens, candTokens []string, queryFull, candFull string) float64 {
	score := matchr.JaroWinkler(queryFull, candFull, false)

	if len(queryTokens) > 1 || len(candTokens) > 1 {
		joined := matchr.JaroWinkler(
			strings.Join(queryTokens, ""),
			strings.Join(candTokens, ""),
			false,
		)
		score = max(score, joined)
	}

	for _, qt := range queryTokens {
		for _, ct := range candTokens {
			score = max(score, matchr.JaroWinkler(qt, ct, false))
		}
	}
	return score
}
