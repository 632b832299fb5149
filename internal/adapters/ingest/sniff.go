// Package ingest turns uploaded bytes into inputs the analysis core
// accepts: omr.Source values for sheet music and decoded PCM recordings.
package ingest

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/domain/performance"
)

var sheetImages = []string{"image/png", "image/jpeg", "image/gif", "image/tiff", "image/bmp", "image/webp"}

var audioTypes = []string{
	"audio/wav", "audio/flac", "audio/mpeg", "audio/ogg", "application/ogg",
	"audio/aiff", "audio/aac", "audio/mp4", "audio/x-m4a", "audio/webm", "video/webm", "video/mp4",
}

// Detect returns the content type of data.
func Detect(data []byte) string {
	return mimetype.Detect(data).String()
}

// SheetSource classifies a sheet upload as a PDF or a raster image.
func SheetSource(name string, data []byte) (omr.Source, error) {
	if len(data) == 0 {
		return omr.Source{}, ErrEmptyUpload
	}
	m := mimetype.Detect(data)
	switch {
	case m.Is("application/pdf") || omr.LooksLikePDF(data):
		return omr.Source{Name: name, Kind: omr.KindPDF, Data: data}, nil
	case mimetype.EqualsAny(m.String(), sheetImages...):
		return omr.Source{Name: name, Kind: omr.KindImage, Data: data}, nil
	}
	return omr.Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSheet, m.String())
}

// AudioType returns the content type of an audio upload, or an
// UnsupportedFormat failure when data is not a known audio container.
func AudioType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &performance.Failure{Kind: performance.EmptyRecording, Err: ErrEmptyUpload}
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if mimetype.EqualsAny(m.String(), audioTypes...) {
			return m.String(), nil
		}
	}
	return "", &performance.Failure{
		Kind: performance.UnsupportedFormat,
		Err:  fmt.Errorf("content type %s", Detect(data)),
	}
}
