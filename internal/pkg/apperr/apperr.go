// Package apperr defines the error kinds returned by incident operations.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrMissingField    = errors.New("missing field")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyAssigned = errors.New("already assigned")
	ErrInvalidState    = errors.New("invalid state")
	ErrPersistFailed   = errors.New("persist failed")
)

// Error is a typed operation error. Kind is one of the sentinel errors above.
type Error struct {
	Kind    error
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// MissingField returns an error for an absent required input.
func MissingField(field string) *Error {
	return &Error{Kind: ErrMissingField, Field: field, Message: field + " is required"}
}

// NotFound returns an error for an absent referenced record.
func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// AlreadyClosed returns an error for a mutation of a closed incident.
func AlreadyClosed(message string) *Error {
	return &Error{Kind: ErrAlreadyClosed, Message: message}
}

// AlreadyAssigned returns an error for assigning an assigned incident.
func AlreadyAssigned(message string) *Error {
	return &Error{Kind: ErrAlreadyAssigned, Message: message}
}

// InvalidState returns an error for a transition not allowed from the current state.
func InvalidState(message string) *Error {
	return &Error{Kind: ErrInvalidState, Message: message}
}

// PersistFailed wraps a store failure during the effect phase.
func PersistFailed(err error) *Error {
	return &Error{Kind: ErrPersistFailed, Message: "PERSIST_FAILED", Err: err}
}

// FieldOf returns the field name carried by a MissingField error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
