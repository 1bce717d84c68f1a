// Package errors provides error wrapping utilities and the typed error
// taxonomy surfaced to clients in error response envelopes.
package errors

import (
	goerrors "errors"
	"fmt"
)

// Kind classifies an error for the protocol layer.
type Kind string

const (
	KindUnknownEvent     Kind = "unknown_event"
	KindValidation       Kind = "validation"
	KindNotAuthorized    Kind = "not_authorized"
	KindAlreadyExists    Kind = "already_exists"
	KindLocked           Kind = "locked"
	KindNotFound         Kind = "not_found"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindBackend          Kind = "backend"
)

// Error is a tagged protocol error. Event names the operation the client
// requested so the error envelope can echo it back.
type Error struct {
	Kind    Kind
	Event   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed protocol error.
func New(kind Kind, event, message string) *Error {
	return &Error{Kind: kind, Event: event, Message: message}
}

// Backend wraps a K/V or blob store failure.
func Backend(event string, err error) *Error {
	return &Error{Kind: KindBackend, Event: event, Message: "Backend failure", Err: err}
}

// KindOf extracts the Kind from err, or KindBackend for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// AsError extracts a typed *Error from err when present.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := goerrors.As(err, &e)
	return e, ok
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
