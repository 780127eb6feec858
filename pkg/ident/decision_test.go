package ident_test

import (
	"testing"

	"github.com/auricle-labs/timbre/pkg/ident"
)

func TestClassify(t *testing.T) {
	th := ident.DefaultThresholds()
	tests := []struct {
		score float64
		want  ident.Tier
	}{
		{1.00, ident.TierAuto},
		{0.85, ident.TierAuto}, // boundaries are inclusive lower bounds
		{0.849, ident.TierSuggested},
		{0.70, ident.TierSuggested},
		{0.699, ident.TierUncertain},
		{0.60, ident.TierUncertain},
		{0.599, ident.TierUnknown},
		{0.0, ident.TierUnknown},
		{-0.3, ident.TierUnknown},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestThresholdsValid(t *testing.T) {
	tests := []struct {
		name string
		th   ident.Thresholds
		want bool
	}{
		{"defaults", ident.DefaultThresholds(), true},
		{"unordered", ident.Thresholds{Auto: 0.7, Suggested: 0.8, Uncertain: 0.6}, false},
		{"equal bounds", ident.Thresholds{Auto: 0.8, Suggested: 0.8, Uncertain: 0.6}, false},
		{"above one", ident.Thresholds{Auto: 1.1, Suggested: 0.8, Uncertain: 0.6}, false},
		{"negative", ident.Thresholds{Auto: 0.8, Suggested: 0.5, Uncertain: -0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.th.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
