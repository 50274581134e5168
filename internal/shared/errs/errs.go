// Package errs defines the stable error taxonomy shared by the dialogue core
// and the API layer.
//
// Every failure a caller can observe maps to exactly one Kind, so a client can
// decide whether to re-prompt (SelectionNotRecognized), restart the flow
// (SessionNotFound/SessionExpired), or surface a generic failure (Upstream).
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, caller-facing error code.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindSessionNotFound        Kind = "session_not_found"
	KindSessionExpired         Kind = "session_expired"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindSelectionNotRecognized Kind = "selection_not_recognized"
	KindUpstream               Kind = "upstream_error"
)

// Sentinel errors for errors.Is checks.
var (
	ErrValidation             = &Error{kind: KindValidation, msg: "invalid request"}
	ErrSessionNotFound        = &Error{kind: KindSessionNotFound, msg: "session not found"}
	ErrSessionExpired         = &Error{kind: KindSessionExpired, msg: "session expired"}
	ErrInvalidStateTransition = &Error{kind: KindInvalidStateTransition, msg: "operation not valid in current session state"}
	ErrSelectionNotRecognized = &Error{kind: KindSelectionNotRecognized, msg: "selection not among offered options"}
	ErrUpstream               = &Error{kind: KindUpstream, msg: "resolver capability failed"}
)

// Error carries a Kind plus a human-readable message. Wrapped causes are
// preserved for logging but never leak into the caller-facing code.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any error of the same Kind, so
// errors.Is(err, errs.ErrSessionNotFound) works regardless of message.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.kind == te.kind
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// New creates an error of the given kind with a custom message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindUpstream so nothing internal leaks to callers.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUpstream
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindSessionExpired:
		return http.StatusGone
	case KindInvalidStateTransition:
		return http.StatusConflict
	case KindSelectionNotRecognized:
		return http.StatusUnprocessableEntity
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
