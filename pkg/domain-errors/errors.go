// Package domainerrors carries coded errors across service boundaries.
//
// Services return these so the transport layer can pick an HTTP status and a
// client-safe message without inspecting error strings. Stores do not use this
// package; they return sentinel errors (see pkg/platform/sentinel) which
// services translate.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeBadRequest          Code = "bad_request"
	CodeInvalidInput        Code = "invalid_input"
	CodeValidation          Code = "validation_error"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeUnauthorized        Code = "unauthorized"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeInvariantViolation  Code = "invariant_violation"
	CodePartialFailure      Code = "partial_failure"
	CodeAnalysisUnavailable Code = "analysis_unavailable"
	CodeStorageUnavailable  Code = "storage_unavailable"
	CodeInternal            Code = "internal_error"
)

// Error is a coded domain error. Message is safe to show to clients except
// for CodeInternal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message of the outermost coded error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
