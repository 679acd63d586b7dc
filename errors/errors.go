// Package errors provides the coded error type shared by every intentd
// component. Each error carries a code that decides two things: which
// category the failure belongs to (caller input vs. backend) and how it is
// reported, as an HTTP status on the gateway or an exit code from the CLI.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeInternal    = "internal"    // unexpected failure, including bad model output
	CodeTimeout     = "timeout"     // request exceeded its deadline
	CodeCancelled   = "cancelled"   // caller went away
	CodeTransport   = "transport"   // RPC connection or framing failure
	CodeProtocol    = "protocol"    // remote returned an application exception
	CodeValidation  = "validation"  // invalid caller input or configuration
	CodeNotFound    = "not_found"   // artifact or route does not exist
	CodeUnavailable = "unavailable" // backend is down, stopping, or the breaker is open
	CodeRateLimit   = "rate_limit"  // too many requests
)

// Category separates failures the caller can fix from failures they cannot.
type Category string

const (
	CategoryInput   Category = "input"
	CategoryBackend Category = "backend"
)

// Error is a coded error with an optional cause and metadata.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Cause   error             `json:"-"`
	Meta    map[string]string `json:"meta,omitempty"`

	// nil = decided by code
	retry *bool
}

// New creates an error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause. A nil cause yields nil.
func Wrap(code string, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code string, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Input reports a caller mistake. It is shorthand for New(CodeValidation, ...).
func Input(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// WithMeta returns a copy of the error with key set in its metadata.
func (e *Error) WithMeta(key, value string) *Error {
	cp := *e
	cp.Meta = make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		cp.Meta[k] = v
	}
	cp.Meta[key] = value
	return &cp
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code and message, so sentinels
// still match after WithMeta or Retriable copied them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// Category reports whether the error was caused by caller input.
func (e *Error) Category() Category {
	if e.Code == CodeValidation {
		return CategoryInput
	}
	return CategoryBackend
}

// Retriable returns a copy explicitly marked as retryable.
func (e *Error) Retriable() *Error {
	cp := *e
	t := true
	cp.retry = &t
	return &cp
}

// Permanent returns a copy explicitly marked as not retryable.
func (e *Error) Permanent() *Error {
	cp := *e
	f := false
	cp.retry = &f
	return &cp
}

var retryableCodes = map[string]bool{
	CodeTransport:   true,
	CodeUnavailable: true,
}

// IsRetryable reports whether a call that failed with err is worth
// repeating on a fresh connection. Timeouts are not retried: the caller's
// deadline is already spent. Uncoded errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return true
	}
	if e.retry != nil {
		return *e.retry
	}
	return retryableCodes[e.Code]
}

// Code extracts the code from any error. Uncoded errors are internal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// CategoryOf classifies any error. Uncoded errors belong to the backend.
func CategoryOf(err error) Category {
	if Code(err) == CodeValidation {
		return CategoryInput
	}
	return CategoryBackend
}

// HTTPStatus maps a code to the status the gateway responds with.
// Validation is the only 400; a cancelled request gets nginx's 499 since
// nobody is left to read it.
func HTTPStatus(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable, CodeRateLimit:
		return http.StatusServiceUnavailable
	case CodeCancelled:
		return 499 // Client Closed Request
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a code to a process exit status.
func ExitCode(code string) int {
	switch code {
	case CodeValidation:
		return 2
	case CodeNotFound:
		return 3
	case CodeTimeout:
		return 5
	case CodeUnavailable:
		return 6
	case CodeTransport:
		return 7
	case CodeProtocol:
		return 8
	case CodeCancelled:
		return 130
	default:
		return 1
	}
}

// Is and As re-export the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
