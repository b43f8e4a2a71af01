// Package apperr defines the error kinds reported by the progression engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to render or map it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
	KindValidation
	KindAttemptsExhausted
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindAttemptsExhausted:
		return "attempts_exhausted"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified error. Code is a stable machine-readable reason.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Code != "" {
			return e.Code + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, fmt.Errorf(format, args...))
}

func Forbidden(code, format string, args ...any) *Error {
	return New(KindForbidden, code, fmt.Errorf(format, args...))
}

func InvalidState(code, format string, args ...any) *Error {
	return New(KindInvalidState, code, fmt.Errorf(format, args...))
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Errorf(format, args...))
}

func AttemptsExhausted(format string, args ...any) *Error {
	return New(KindAttemptsExhausted, "attempts_exhausted", fmt.Errorf(format, args...))
}

// Storage wraps an infrastructure failure. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return New(KindStorage, "storage_failure", fmt.Errorf("%s: %w", op, err))
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
