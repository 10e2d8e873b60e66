package internal

import (
	"errors"
	"fmt"
)

// Code identifies one failure class. The set is closed; callers switch on
// it to pick wire responses and retry behavior.
type Code string

const (
	CodeAlreadyInitialized Code = "already_initialized"
	CodeInvalidParameters  Code = "invalid_parameters"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeCeremonyFull       Code = "ceremony_full"
	CodeWrongState         Code = "wrong_state"
	CodeEngineFailure      Code = "engine_failure"
	CodeTimeout            Code = "timeout"
)

// Error is a coded coordinator error. Expected/Actual are populated for
// wrong-state rejections so callers can see which transition was refused.
type Error struct {
	Code     Code
	Message  string
	Expected Status
	Actual   Status
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause.Error())
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the taxonomy code from err, or "" for uncoded errors
// (store I/O failures and the like, which are transient to the caller).
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// PublicMessage renders err for the wire. NotFound and Unauthorized produce
// identical text so responses never confirm which ceremonies exist; audit
// logs keep the distinction.
func PublicMessage(err error) string {
	var ce *Error
	if !errors.As(err, &ce) {
		return "internal error"
	}
	switch ce.Code {
	case CodeNotFound, CodeUnauthorized:
		return "ceremony not found"
	default:
		return ce.Message
	}
}

func errAlreadyInitialized() error {
	return &Error{
		Code:    CodeAlreadyInitialized,
		Message: "a ceremony already exists for this operation id",
	}
}

func errInvalidParameters(format string, args ...any) error {
	return &Error{Code: CodeInvalidParameters, Message: fmt.Sprintf(format, args...)}
}

func errNotFound() error {
	return &Error{Code: CodeNotFound, Message: "ceremony not found"}
}

func errUnauthorized(userID string) error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: fmt.Sprintf("user %q is not part of this ceremony", userID),
	}
}

func errCeremonyFull(max int) error {
	return &Error{Code: CodeCeremonyFull, Message: fmt.Sprintf("ceremony is full (%d participants)", max)}
}

// errCeremonyClosed rejects a fresh join once the ceremony is terminal.
// There is no single expected status for a join, so only Actual is set.
func errCeremonyClosed(actual Status) error {
	return &Error{
		Code:    CodeWrongState,
		Message: fmt.Sprintf("ceremony in state %q is no longer accepting participants", actual),
		Actual:  actual,
	}
}

func errWrongState(expected, actual Status) error {
	return &Error{
		Code:     CodeWrongState,
		Message:  fmt.Sprintf("ceremony is in state %q, operation requires %q", actual, expected),
		Expected: expected,
		Actual:   actual,
	}
}

func errEngineFailure(cause error) error {
	return &Error{Code: CodeEngineFailure, Message: "protocol engine failure", cause: cause}
}

// failedCeremony is the stable error every mutating operation returns once
// a ceremony is failed. The code mirrors the reason the ceremony failed, so
// a given ceremony always reports the same error.
func failedCeremony(reason Code) error {
	if reason == CodeTimeout {
		return &Error{Code: CodeTimeout, Message: "ceremony failed: timed out"}
	}
	return &Error{Code: CodeEngineFailure, Message: "ceremony failed: unrecoverable protocol engine error"}
}
