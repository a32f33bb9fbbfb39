// Package storage is the single storage adapter (C1): one set of
// repositories over the embedded sqlite store, collapsing what the teacher's
// domain exposed as two parallel layers into one.
package storage

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy from spec §7: callers branch on kind, not on
// database-specific error types.
type Kind string

const (
	KindStorage        Kind = "storage"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindConflict       Kind = "conflict"
)

// Error wraps a lower-level failure with a Kind the HTTP boundary maps to a
// status code.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewNotFound builds a KindNotFound error.
func NewNotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewConflict builds a KindConflict error.
func NewConflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

// Wrap builds a KindStorage error from a lower-level failure.
func Wrap(message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindStorage for errors this
// package didn't produce.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}
