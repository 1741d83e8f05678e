// Package domainerrors defines the coded error taxonomy for the entitlement
// engine. Services return these; the transport layer maps codes to HTTP
// statuses. Infrastructure layers return pkg/platform/sentinel errors instead
// and services translate at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a caller-facing failure.
type Code string

const (
	// CodeValidation marks malformed or insufficient input, rejected pre-mutation.
	CodeValidation Code = "validation_error"
	// CodeAuthorization marks an actor acting outside their rights: not the
	// requester on submit, no pending step on decide, not involved on read.
	CodeAuthorization Code = "authorization_error"
	// CodeConflict marks a hard-block SoD violation detected before any row is
	// created. The error carries the violation detail for UI remediation.
	CodeConflict Code = "conflict_error"
	// CodeNotFound marks an unknown request, step or rule id.
	CodeNotFound Code = "not_found"
	// CodeInvalidState marks an operation invalid for the entity's current
	// status, rejected with no mutation.
	CodeInvalidState Code = "state_error"
	// CodeInternal marks infrastructure failures reported opaquely to callers.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Details carries structured remediation data
// (for example SoD violation records) when the code warrants it.
type Error struct {
	Code    Code
	Message string
	Details any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// WithDetails returns a copy of the error carrying structured detail data.
func (e *Error) WithDetails(details any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf extracts structured details from an error chain, if any.
func DetailsOf(err error) any {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
