// Package apperr holds the error kinds every domain package reports through.
// Domain errors wrap exactly one kind so the transport layer can map them
// without knowing each sentinel.
package apperr

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("state conflict")
	ErrGateway    = errors.New("gateway failure")
)

var kinds = []error{ErrValidation, ErrNotFound, ErrForbidden, ErrConflict, ErrGateway}

// Error is a domain error with its own message and a kind.
type Error struct {
	kind error
	msg  string
}

func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Validation builds an ad hoc validation error for a single request.
func Validation(msg string) error {
	return New(ErrValidation, msg)
}

// KindOf returns the kind err belongs to, or nil for unclassified errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
