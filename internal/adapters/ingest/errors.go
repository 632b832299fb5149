package ingest

import "errors"

// Sentinel error kinds for this package.
var (
	ErrEmptyUpload      = errors.New("empty upload")
	ErrUnsupportedSheet = errors.New("unsupported sheet format")
	ErrNotWAV           = errors.New("not a PCM wav file")
	ErrDecoderMissing   = errors.New("audio decoder not available")
)
