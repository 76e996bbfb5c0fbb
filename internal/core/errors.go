// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the handling classes of the pipeline.
type Kind string

const (
	KindInput               Kind = "input"
	KindConfiguration       Kind = "configuration"
	KindInsufficientHorizon Kind = "insufficient_horizon"
	KindNumerical           Kind = "numerical_instability"
	KindInvariant           Kind = "invariant_violation"
	KindPredictor           Kind = "predictor"
)

// NoIndex marks an error that is not tied to a position in a series.
const NoIndex = -1

// Error represents a structured error with code and optional cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Index is the offending tick, bar or event index, or NoIndex.
	Index   int
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Index != NoIndex {
		msg = fmt.Sprintf("%s at index %d", msg, e.Index)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// At returns a copy of the error pointing at index i.
func (e *Error) At(i int) *Error {
	c := *e
	c.Index = i
	return &c
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Kind:    base.Kind,
		Code:    base.Code,
		Message: base.Message,
		Index:   base.Index,
		Cause:   cause,
	}
}

// Errorf wraps base with a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a structured error of kind k.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// Invariant panics with an invariant violation. Violations indicate a bug in
// the scan logic, not bad input, and are never recovered.
func Invariant(base *Error, format string, args ...any) {
	panic(Errorf(base, format, args...))
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Index: NoIndex}
}

// Predefined errors
var (
	// Input errors
	ErrEmptyInput     = newError(KindInput, "EMPTY_INPUT", "empty input sequence")
	ErrMalformedInput = newError(KindInput, "MALFORMED_INPUT", "malformed input")

	// Configuration errors
	ErrInvalidThreshold = newError(KindConfiguration, "INVALID_THRESHOLD", "threshold must be positive")
	ErrConfigInvalid    = newError(KindConfiguration, "CONFIG_INVALID", "configuration invalid")
	ErrConfigMissing    = newError(KindConfiguration, "CONFIG_MISSING", "required configuration missing")

	// Per-event errors
	ErrInsufficientHorizon = newError(KindInsufficientHorizon, "INSUFFICIENT_HORIZON", "not enough bars after anchor")
	ErrInsufficientHistory = newError(KindInsufficientHorizon, "INSUFFICIENT_HISTORY", "not enough bars before anchor to scale barriers")
	ErrStaleAnchor         = newError(KindInsufficientHorizon, "STALE_ANCHOR", "event anchored on a stale bar")
	ErrInvalidEvent        = newError(KindInsufficientHorizon, "INVALID_EVENT", "event parameters invalid")

	// Numerical errors
	ErrNumericalInstability = newError(KindNumerical, "NUMERICAL_INSTABILITY", "filter variance out of range")

	// Invariant violations
	ErrLookAhead           = newError(KindInvariant, "LOOK_AHEAD", "future bar accessed")
	ErrOverlappingPosition = newError(KindInvariant, "OVERLAPPING_POSITION", "position already open")
	ErrNoOpenPosition      = newError(KindInvariant, "NO_OPEN_POSITION", "no open position")
	ErrInvariant           = newError(KindInvariant, "INVARIANT_VIOLATION", "invariant violated")

	// Predictor errors
	ErrPredictorFailed = newError(KindPredictor, "PREDICTOR_FAILED", "predictor failed")
)
