package namematch_test

import (
	"testing"

	"github.com/auricle-labs/timbre/pkg/ident/namematch"
)

func TestResolveExactMatch(t *testing.T) {
	r := namematch.New()
	idx, score := r.Resolve("alice", []string{"Bob", "Alice", "Carol"})
	if idx != 1 || score != 1.0 {
		t.Errorf("Resolve = (%d, %v), want (1, 1.0)", idx, score)
	}

	// Case and surrounding whitespace are ignored.
	idx, score = r.Resolve("  ALICE ", []string{"alice"})
	if idx != 0 || score != 1.0 {
		t.Errorf("Resolve = (%d, %v), want (0, 1.0)", idx, score)
	}
}

func TestResolvePhoneticVariants(t *testing.T) {
	r := namematch.New()
	tests := []struct {
		query      string
		candidates []string
		wantIdx    int
	}{
		{"Jon", []string{"Alice", "John"}, 1},
		{"Jon Smyth", []string{"John Smith", "Jane Smart"}, 0},
		{"Kathryn", []string{"Catherine", "Bob"}, 0},
		{"Steven", []string{"Stephen"}, 0},
	}
	for _, tt := range tests {
		idx, score := r.Resolve(tt.query, tt.candidates)
		if idx != tt.wantIdx {
			t.Errorf("Resolve(%q, %v) = (%d, %v), want index %d",
				tt.query, tt.candidates, idx, score, tt.wantIdx)
			continue
		}
		if score >= 1.0 {
			t.Errorf("Resolve(%q) score = %v, want < 1.0 for a non-exact match", tt.query, score)
		}
	}
}

func TestResolveRejectsUnrelatedNames(t *testing.T) {
	r := namematch.New()
	if idx, _ := r.Resolve("Carol", []string{"Alice", "Bob"}); idx != -1 {
		t.Errorf("unrelated name resolved to index %d", idx)
	}
	if idx, _ := r.Resolve("Xavier", []string{"John Smith"}); idx != -1 {
		t.Errorf("unrelated name resolved to index %d", idx)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	r := namematch.New()
	if idx, _ := r.Resolve("", []string{"Alice"}); idx != -1 {
		t.Errorf("empty query resolved to %d", idx)
	}
	if idx, _ := r.Resolve("   ", []string{"Alice"}); idx != -1 {
		t.Errorf("blank query resolved to %d", idx)
	}
	if idx, _ := r.Resolve("Alice", nil); idx != -1 {
		t.Errorf("empty candidates resolved to %d", idx)
	}
	if idx, _ := r.Resolve("Alice", []string{"", "  "}); idx != -1 {
		t.Errorf("blank candidates resolved to %d", idx)
	}
}

func TestResolveThresholdOptions(t *testing.T) {
	// An impossible phonetic threshold blocks even close variants.
	strict := namematch.New(namematch.WithPhoneticThreshold(1.01), namematch.WithFuzzyThreshold(1.01))
	if idx, _ := strict.Resolve("Jon", []string{"John"}); idx != -1 {
		t.Errorf("strict resolver matched, idx = %d", idx)
	}
	// Exact matches bypass thresholds entirely.
	if idx, score := strict.Resolve("John", []string{"John"}); idx != 0 || score != 1.0 {
		t.Errorf("exact match blocked by thresholds: (%d, %v)", idx, score)
	}
}
