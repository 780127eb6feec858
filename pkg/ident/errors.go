package ident

import (
	"errors"
	"fmt"
)

// ErrAlreadyVerified is returned when feedback is submitted twice for the
// same identification event. The verified flag flips exactly once.
var ErrAlreadyVerified = errors.New("identification event already verified")

// ErrNoReference is returned when a feedback request names neither an event
// nor an embedding.
var ErrNoReference = errors.New("feedback must reference an event or an embedding")

// NotFoundKind names the record type a [NotFoundError] refers to.
type NotFoundKind string

const (
	KindSpeaker   NotFoundKind = "speaker"
	KindEmbedding NotFoundKind = "embedding"
	KindEvent     NotFoundKind = "event"
)

// NotFoundError reports a lookup of a record that does not exist. It is
// distinct from malformed input: the referenced ID was well-formed but
// matched nothing, possibly because a concurrent cascade delete removed it.
type NotFoundError struct {
	// Kind is the record type that was looked up.
	Kind NotFoundKind

	// ID is the identifier that matched nothing.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is (or wraps) a [NotFoundError].
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DimensionError reports a query vector whose length does not match the
// store's fixed embedding dimensionality.
type DimensionError struct {
	// Want is the configured dimensionality.
	Want int

	// Got is the length of the offending vector.
	Got int
}

// Error implements the error interface.
func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector has %d dimensions, store expects %d", e.Got, e.Want)
}

// IsDimensionError reports whether err is (or wraps) a [DimensionError].
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}
