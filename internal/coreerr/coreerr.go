// Package coreerr defines the error taxonomy shared across the matching
// core: validation, duplicate, not_found, conflict, storage, queue, cache,
// invariant. The first four are user-visible; the last four are
// operator-visible (spec.md §7).
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the eight taxonomy buckets.
type Kind string

const (
	Validation Kind = "validation"
	Duplicate  Kind = "duplicate"
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Storage    Kind = "storage"
	Queue      Kind = "queue"
	Cache      Kind = "cache"
	Invariant  Kind = "invariant"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
