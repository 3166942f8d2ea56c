// Package apperr is the error taxonomy surfaced to callers of domain
// operations. Infrastructure failures that reach the boundary without a
// code are reported as INTERNAL.
package apperr

import (
	"errors"
	"fmt"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Unauthorized(msg string) error {
	return New(CodeUnauthorized, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func Internal(msg string) error {
	return New(CodeInternal, msg)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal if there is none. CodeOf(nil) is "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Public returns the message safe to show a caller: the domain message for
// coded errors, a generic text otherwise.
func Public(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return "internal error"
}
