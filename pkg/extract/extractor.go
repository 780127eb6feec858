// Package extract defines the voice-embedding extraction boundary.
//
// The identification engine never touches audio itself: an [Extractor]
// turns an audio clip into the fixed-length embedding vector the engine
// matches on. The production implementation
// ([github.com/auricle-labs/timbre/pkg/extract/httpextract]) talks to a
// sidecar service hosting the acoustic model; tests inject a fake returning
// fixed vectors.
//
// The extractor is always constructor-injected — never a process-global —
// so deployments and tests choose their implementation explicitly.
package extract

import "context"

// Extractor produces voice-embedding vectors from raw audio.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns the embedding vector for one audio clip. The clip
	// format is implementation-defined (the HTTP sidecar expects WAV).
	// The returned vector's length equals Dimensions().
	Extract(ctx context.Context, audio []byte) ([]float32, error)

	// Dimensions returns the fixed length of vectors this extractor
	// produces.
	Dimensions() int
}
