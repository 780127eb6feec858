package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auricle-labs/timbre/pkg/extract/mock"
)

func TestWrapExtractorPassesThrough(t *testing.T) {
	inner := &mock.Extractor{Vector: []float32{0.1, 0.2, 0.3}}
	ex := WrapExtractor(inner, nil)

	vec, err := ex.Extract(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want 3", len(vec))
	}
	if ex.Dimensions() != 3 {
		t.Errorf("Dimensions = %d, want 3", ex.Dimensions())
	}
	if string(inner.LastAudio()) != "wav" {
		t.Errorf("audio = %q, want wav", inner.LastAudio())
	}
}

func TestWrapExtractorFailsFastWhenOpen(t *testing.T) {
	inner := &mock.Extractor{Dims: 4, Err: errors.New("503 from sidecar")}
	ex := WrapExtractor(inner, NewBreaker(BreakerConfig{
		Name:         "extractor",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))

	for i := 0; i < 2; i++ {
		if _, err := ex.Extract(context.Background(), nil); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if ex.State() != StateOpen {
		t.Fatalf("state = %v, want open", ex.State())
	}

	_, err := ex.Extract(context.Background(), nil)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if inner.CallCount() != 2 {
		t.Errorf("inner calls = %d, want 2: open breaker must not reach sidecar", inner.CallCount())
	}
}

func TestWrapExtractorDimensionsSkipBreaker(t *testing.T) {
	inner := &mock.Extractor{Dims: 512, Err: errors.New("down")}
	ex := WrapExtractor(inner, NewBreaker(BreakerConfig{
		Name:         "extractor",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	}))

	_, _ = ex.Extract(context.Background(), nil)
	if ex.State() != StateOpen {
		t.Fatalf("state = %v, want open", ex.State())
	}
	if ex.Dimensions() != 512 {
		t.Errorf("Dimensions = %d, want 512", ex.Dimensions())
	}
}
