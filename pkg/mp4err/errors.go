// Package mp4err implements the error taxonomy shared by the demuxer and
// muxer engines: a small set of kinds callers branch on programmatically,
// rather than by string-matching a wrapped stdlib error.
package mp4err

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy of the nine error categories.
type Kind uint8

// Error kinds.
const (
	Other Kind = iota
	InvalidInput
	InvalidData
	InvalidState
	InputRequired
	OutputRequired
	NullPointer
	NoMoreSamples
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case InvalidData:
		return "invalid_data"
	case InvalidState:
		return "invalid_state"
	case InputRequired:
		return "input_required"
	case OutputRequired:
		return "output_required"
	case NullPointer:
		return "null_pointer"
	case NoMoreSamples:
		return "no_more_samples"
	case Unsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// Error is the concrete error type every fallible operation in this module
// returns. It always carries a Kind and a human-readable message, and
// optionally wraps an underlying cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err is an *Error of the given kind, anywhere in its
// chain (mirrors errors.Is but matches on Kind instead of identity).
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and Other
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
