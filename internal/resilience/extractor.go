package resilience

import (
	"context"

	"github.com/auricle-labs/timbre/pkg/extract"
)

// Extractor wraps an [extract.Extractor] with a [Breaker]. While the breaker
// is open, Extract fails fast with [ErrOpen] instead of waiting out another
// sidecar timeout.
type Extractor struct {
	inner   extract.Extractor
	breaker *Breaker
}

var _ extract.Extractor = (*Extractor)(nil)

// WrapExtractor guards inner with breaker. A nil breaker gets defaults.
func WrapExtractor(inner extract.Extractor, breaker *Breaker) *Extractor {
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{Name: "extractor"})
	}
	return &Extractor{inner: inner, breaker: breaker}
}

// Extract forwards to the wrapped extractor when the breaker allows it.
func (e *Extractor) Extract(ctx context.Context, audio []byte) ([]float32, error) {
	var vec []float32
	err := e.breaker.Do(func() error {
		var err error
		vec, err = e.inner.Extract(ctx, audio)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions reports the wrapped extractor's vector length. It never trips
// the breaker.
func (e *Extractor) Dimensions() int {
	return e.inner.Dimensions()
}

// State exposes the breaker state, for readiness reporting.
func (e *Extractor) State() State {
	return e.breaker.State()
}
