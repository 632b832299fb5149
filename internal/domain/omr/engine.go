// Package omr turns an image or PDF of sheet music into a model.ScoreModel.
//
// Recognizers implement Engine. A Selector probes a priority list once and
// binds the first usable engine; the last engine in the list is expected to
// be the in-process algorithmic recognizer, which is always available.
package omr

import (
	"bytes"
	"context"

	"github.com/okian/etude/internal/domain/model"
)

// Engine names.
const (
	EngineAudiveris   = "audiveris"
	EngineOemer       = "oemer"
	EngineAlgorithmic = "algorithmic"
)

// Engine is one sheet-music recognizer.
type Engine interface {
	// Name identifies the engine in ScoreModel.SourceEngine, logs and metrics.
	Name() string
	// Available returns nil when the engine can run in this environment.
	Available(ctx context.Context) error
	// Analyze recognizes the first page of src. Errors are *Failure values.
	Analyze(ctx context.Context, src Source) (model.ScoreModel, error)
}

// SourceKind tells PDFs from raster images.
type SourceKind string

// Source kinds.
const (
	KindPDF   SourceKind = "pdf"
	KindImage SourceKind = "image"
)

// Source is an already-read sheet-music upload.
type Source struct {
	// Name is the original file name, kept for provenance only.
	Name string
	Kind SourceKind
	Data []byte
}

// LooksLikePDF reports whether data starts with the PDF magic.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-"))
}
