package ident

// Thresholds holds the lower bound of each decision tier. A score equal to
// a bound falls into that tier: 0.85 is auto, 0.70 is suggested, 0.60 is
// uncertain, anything below is unknown.
type Thresholds struct {
	// Auto is the minimum similarity for automatic assignment.
	Auto float64

	// Suggested is the minimum similarity for a confirmable suggestion.
	Suggested float64

	// Uncertain is the minimum similarity for a manual-review flag.
	Uncertain float64
}

// DefaultThresholds returns the reference tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Auto: 0.85, Suggested: 0.70, Uncertain: 0.60}
}

// Classify maps a similarity score to its decision tier. It is a pure
// function of the score at decision time; recorded tiers are never
// recomputed when confidence later shifts.
func (t Thresholds) Classify(score float64) Tier {
	switch {
	case score >= t.Auto:
		return TierAuto
	case score >= t.Suggested:
		return TierSuggested
	case score >= t.Uncertain:
		return TierUncertain
	default:
		return TierUnknown
	}
}

// Valid reports whether the boundaries are strictly ordered and within [0, 1].
func (t Thresholds) Valid() bool {
	if t.Auto <= t.Suggested || t.Suggested <= t.Uncertain {
		return false
	}
	return t.Uncertain >= 0 && t.Auto <= 1
}
