// Package mock provides a configurable test double for [extract.Extractor].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/auricle-labs/timbre/pkg/extract"
)

// Compile-time interface check.
var _ extract.Extractor = (*Extractor)(nil)

// Extractor is a test double for [extract.Extractor]. It records every
// Extract call and returns the configured vector or error. Safe for
// concurrent use.
type Extractor struct {
	mu    sync.Mutex
	calls [][]byte

	// Vector is returned by Extract when Err is nil. When nil, Extract
	// returns a zero vector of Dims length.
	Vector []float32

	// Err is returned by Extract when non-nil.
	Err error

	// Dims is the dimensionality reported by Dimensions. Defaults to the
	// length of Vector when zero.
	Dims int
}

// Extract implements [extract.Extractor].
func (m *Extractor) Extract(_ context.Context, audio []byte) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, slices.Clone(audio))
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Vector != nil {
		return slices.Clone(m.Vector), nil
	}
	return make([]float32, m.Dimensions()), nil
}

// Dimensions implements [extract.Extractor].
func (m *Extractor) Dimensions() int {
	if m.Dims > 0 {
		return m.Dims
	}
	return len(m.Vector)
}

// CallCount returns how many times Extract was invoked.
func (m *Extractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastAudio returns the audio bytes passed to the most recent Extract call,
// or nil when Extract was never called.
func (m *Extractor) LastAudio() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return slices.Clone(m.calls[len(m.calls)-1])
}
