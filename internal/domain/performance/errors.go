package performance

import (
	"errors"
	"fmt"
)

// Failure kind sentinels. A *Failure matches its kind with errors.Is.
var (
	ErrEmptyRecording    = errors.New("empty recording")
	ErrTooShort          = errors.New("recording too short")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrAnalysisTimeout   = errors.New("analysis timeout")
)

// ErrUnknownInstrument is returned for instruments outside the catalogue.
var ErrUnknownInstrument = errors.New("unknown instrument")

// FailureKind classifies an audio analysis failure.
type FailureKind int

// Analysis failure kinds.
const (
	EmptyRecording FailureKind = iota + 1
	TooShort
	UnsupportedFormat
	AnalysisTimeout
)

func (k FailureKind) String() string {
	switch k {
	case EmptyRecording:
		return "empty_recording"
	case TooShort:
		return "too_short"
	case UnsupportedFormat:
		return "unsupported_format"
	case AnalysisTimeout:
		return "analysis_timeout"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case EmptyRecording:
		return ErrEmptyRecording
	case TooShort:
		return ErrTooShort
	case UnsupportedFormat:
		return ErrUnsupportedFormat
	case AnalysisTimeout:
		return ErrAnalysisTimeout
	default:
		return nil
	}
}

// Failure is returned by Analyzer.Analyze. No partial model accompanies it.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "audio analysis: " + f.Kind.String()
	}
	return fmt.Sprintf("audio analysis: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches the kind sentinel.
func (f *Failure) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && target == s
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func fail(kind FailureKind, format string, args ...any) error {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}
