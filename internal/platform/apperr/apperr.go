// Package apperr defines the error kinds surfaced at the HTTP boundary.
// Business rules raise a kind at the point of detection. Anything else is an
// internal error whose cause is logged and never shown to the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

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

func newError(kind Kind, format string, args ...interface{}) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg}
}

func BadRequest(format string, args ...interface{}) error {
	return newError(KindBadRequest, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newError(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newError(KindForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

// Wrap marks err as an internal failure. Errors that already carry a kind
// are returned unchanged.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal if it carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		return ae.Message
	}
	return "internal server error"
}
