package omr

import (
	"errors"
	"fmt"
)

// Failure kind sentinels. A *Failure matches its kind with errors.Is.
var (
	ErrUnreadableInput   = errors.New("unreadable input")
	ErrEngineTimeout     = errors.New("engine timeout")
	ErrNoSymbolsDetected = errors.New("no symbols detected")
)

// Selector errors.
var (
	// ErrNoEngine means even the fallback engine reported itself unusable,
	// which is a configuration error.
	ErrNoEngine      = errors.New("no omr engine available")
	ErrUnknownEngine = errors.New("unknown omr engine")
	ErrToolNotFound  = errors.New("tool not found")
)

// FailureKind classifies a recognition failure.
type FailureKind int

// Recognition failure kinds.
const (
	UnreadableInput FailureKind = iota + 1
	EngineTimeout
	NoSymbolsDetected
)

func (k FailureKind) String() string {
	switch k {
	case UnreadableInput:
		return "unreadable_input"
	case EngineTimeout:
		return "engine_timeout"
	case NoSymbolsDetected:
		return "no_symbols_detected"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case UnreadableInput:
		return ErrUnreadableInput
	case EngineTimeout:
		return ErrEngineTimeout
	case NoSymbolsDetected:
		return ErrNoSymbolsDetected
	default:
		return nil
	}
}

// Failure is returned by Engine.Analyze.
type Failure struct {
	Kind   FailureKind
	Engine string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("omr %s: %s", f.Engine, f.Kind)
	}
	return fmt.Sprintf("omr %s: %s: %v", f.Engine, f.Kind, f.Err)
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

func unreadable(engine string, err error) error {
	return &Failure{Kind: UnreadableInput, Engine: engine, Err: err}
}

func timedOut(engine string, err error) error {
	return &Failure{Kind: EngineTimeout, Engine: engine, Err: err}
}

func noSymbols(engine, reason string) error {
	return &Failure{Kind: NoSymbolsDetected, Engine: engine, Err: errors.New(reason)}
}
