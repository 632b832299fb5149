package model

import "errors"

// Sentinel errors for record validation.
var (
	ErrInvalidPitch      = errors.New("invalid pitch")
	ErrUnsortedNotes     = errors.New("notes are not sorted by onset")
	ErrConfidenceRange   = errors.New("confidence outside 0..1")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownDimension  = errors.New("unknown dimension")
)
