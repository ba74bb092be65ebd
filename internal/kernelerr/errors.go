// Package kernelerr defines the kernel's error taxonomy (spec §7) and the
// JSON-RPC error code translation used at the MCP transport boundary.
package kernelerr

import "fmt"

// Kind classifies an error by the handling the caller should apply, not by
// the Go type of the error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCapacity   Kind = "capacity"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTimeout    Kind = "timeout"
	KindExternal   Kind = "external"
	KindFatal      Kind = "fatal"
)

// Error is a kernel error carrying a Kind, a stable Code and a message.
// Components construct these with the New* helpers below; transports
// translate Kind to a wire-level error code (see rpccode.go).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func NewValidation(code, msg string) *Error        { return newErr(KindValidation, code, msg, nil) }
func NewCapacity(code, msg string) *Error          { return newErr(KindCapacity, code, msg, nil) }
func NewNotFound(code, msg string) *Error          { return newErr(KindNotFound, code, msg, nil) }
func NewConflict(code, msg string) *Error          { return newErr(KindConflict, code, msg, nil) }
func NewTimeout(code, msg string) *Error           { return newErr(KindTimeout, code, msg, nil) }
func NewExternal(code, msg string, cause error) *Error { return newErr(KindExternal, code, msg, cause) }
func NewFatal(code, msg string, cause error) *Error    { return newErr(KindFatal, code, msg, cause) }

// As reports whether err is (or wraps) a *Error, mirroring errors.As without
// forcing every call site to allocate a target variable.
func As(err error) (*Error, bool) {
	type causer interface{ Unwrap() error }
	for err != nil {
		if ke, ok := err.(*Error); ok {
			return ke, true
		}
		c, ok := err.(causer)
		if !ok {
			return nil, false
		}
		err = c.Unwrap()
	}
	return nil, false
}
