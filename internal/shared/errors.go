package shared

import (
	"errors"
	"fmt"
)

// Code identifies a user-visible failure class for programmatic handling.
type Code string

const (
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeInsufficientAuthority Code = "INSUFFICIENT_AUTHORITY"
	CodeMissingField          Code = "MISSING_FIELD"
	CodePostingFailed         Code = "POSTING_FAILED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeTokenNotFound         Code = "TOKEN_NOT_FOUND"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeConfigurationMissing  Code = "CONFIGURATION_MISSING"
	CodeNotFound              Code = "NOT_FOUND"
	CodeValidation            Code = "VALIDATION_FAILED"
	CodeForbidden             Code = "FORBIDDEN"
)

// Error carries a machine-readable code alongside an operator-friendly message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a coded error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or empty when err is not a coded error.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// InvalidTransition reports an illegal state-machine edge. The observed
// pre-state is included so concurrent losers can see what beat them.
func InvalidTransition(action, fromState string) *Error {
	return E(CodeInvalidTransition, "cannot %s from state %s", action, fromState)
}

// MissingField reports an unmet precondition on a named field.
func MissingField(field string) *Error {
	return E(CodeMissingField, "required field %s is missing or empty", field)
}
