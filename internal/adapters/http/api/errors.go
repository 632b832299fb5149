package api

import (
	"errors"
	"net/http"

	"github.com/okian/etude/internal/adapters/ingest"
	"github.com/okian/etude/internal/adapters/repository"
	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/domain/performance"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrMissingField = errors.New("missing form field")
)

// Stable error codes returned in error bodies.
const (
	codeBadRequest  = "bad_request"
	codeNotFound    = "not_found"
	codeBackpress   = "backpressure"
	codeTooLarge    = "too_large"
	codeUnavailable = "unavailable"
	codeInternal    = "internal"
	codeUnsupported = "unsupported_format"
)

var omrStatus = map[omr.FailureKind]int{
	omr.UnreadableInput:   http.StatusUnprocessableEntity,
	omr.EngineTimeout:     http.StatusGatewayTimeout,
	omr.NoSymbolsDetected: http.StatusUnprocessableEntity,
}

var audioStatus = map[performance.FailureKind]int{
	performance.EmptyRecording:    http.StatusUnprocessableEntity,
	performance.TooShort:          http.StatusUnprocessableEntity,
	performance.UnsupportedFormat: http.StatusUnsupportedMediaType,
	performance.AnalysisTimeout:   http.StatusGatewayTimeout,
}

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	if f, ok := omr.AsFailure(err); ok {
		if status, known := omrStatus[f.Kind]; known {
			return status, f.Kind.String()
		}
	}
	if f, ok := performance.AsFailure(err); ok {
		if status, known := audioStatus[f.Kind]; known {
			return status, f.Kind.String()
		}
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, codeBackpress
	case errors.Is(err, ingest.ErrUnsupportedSheet):
		return http.StatusUnsupportedMediaType, codeUnsupported
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrMissingField),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, ingest.ErrEmptyUpload),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, model.ErrUnknownInstrument),
		errors.Is(err, performance.ErrUnknownInstrument):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, omr.ErrNoEngine):
		return http.StatusServiceUnavailable, codeUnavailable
	}
	return http.StatusInternalServerError, codeInternal
}
