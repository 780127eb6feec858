package ident

import "time"

// Confidence bounds and initial values. Every adjustment — reinforcement,
// penalty, or decay — is clamped to [ConfidenceFloor, ConfidenceCeiling].
const (
	// ConfidenceFloor is the minimum confidence any embedding can hold.
	ConfidenceFloor = 0.1

	// ConfidenceCeiling is the maximum confidence any embedding can hold.
	ConfidenceCeiling = 1.0

	// InitialConfidence is assigned to a speaker's sample when no human
	// has attributed it yet.
	InitialConfidence = 0.5

	// VerifiedConfidence is assigned to a sample registered through the
	// explicit, human-attributed registration path.
	VerifiedConfidence = 0.95

	// CorrectedConfidence is assigned to a sample enrolled from a feedback
	// correction naming the true speaker.
	CorrectedConfidence = 0.6
)

// Multipliers for feedback adjustments.
const (
	correctFactor   = 1.2
	incorrectFactor = 0.7
	reinforceFactor = 1.1
)

// Decay bands. An embedding unreferenced for longer than a band's age loses
// the band's total confidence; bands are cumulative totals measured from the
// last reference, not additive restarts.
var decayBands = []struct {
	age   time.Duration
	total float64
}{
	{180 * 24 * time.Hour, 0.15},
	{90 * 24 * time.Hour, 0.10},
	{30 * 24 * time.Hour, 0.05},
}

// Clamp bounds v to [ConfidenceFloor, ConfidenceCeiling].
func Clamp(v float64) float64 {
	if v < ConfidenceFloor {
		return ConfidenceFloor
	}
	if v > ConfidenceCeiling {
		return ConfidenceCeiling
	}
	return v
}

// Adjust computes the new confidence for one feedback adjustment. All
// confidence arithmetic for the learning loop lives here so the rules can
// be tested without storage.
//
// streak is the number of consecutive correct confirmations for the same
// embedding including the current one; it only matters for [ReasonCorrect]
// and [ReasonManualVerify], where reaching a milestone adds a bonus on top
// of the multiplicative reinforcement. Decay is handled separately by
// [DecayFor].
func Adjust(old float64, reason AdjustReason, streak int) float64 {
	switch reason {
	case ReasonCorrect, ReasonManualVerify:
		return Clamp(old*correctFactor + streakBonus(streak))
	case ReasonIncorrect, ReasonManualReject:
		return Clamp(old * incorrectFactor)
	default:
		return Clamp(old)
	}
}

// Reinforce computes the smaller reinforcement applied to a near-miss
// embedding of the corrected speaker during feedback.
func Reinforce(old float64) float64 {
	return Clamp(old * reinforceFactor)
}

// streakBonus returns the extra confidence granted when a consecutive
// correct-confirmation streak reaches a milestone. The bonus fires exactly
// at 3, 5 and 10 — not on every confirmation past a milestone.
func streakBonus(streak int) float64 {
	switch streak {
	case 10:
		return 0.15
	case 5:
		return 0.10
	case 3:
		return 0.05
	}
	return 0
}

// DecayFor returns the total decay owed for an embedding whose last
// reference is age in the past. The result is the band total; callers
// subtract decay already applied since the last reference to keep repeated
// sweeps idempotent within a band.
func DecayFor(age time.Duration) float64 {
	for _, band := range decayBands {
		if age > band.age {
			return band.total
		}
	}
	return 0
}
