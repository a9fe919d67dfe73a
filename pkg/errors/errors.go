// Package errors provides coded error types for allocator construction and engine failures.
package errors

import (
	"errors"
	"fmt"
)

// Error codes reported by the construction sequence and the pool engines.
const (
	CodePageInit          = "PAGE_INIT_FAILED"
	CodeNativeInit        = "NATIVE_INIT_FAILED"
	CodeLargePool         = "LARGE_POOL_FAILED"
	CodePool              = "POOL_FAILED"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeInternal          = "INTERNAL_ERROR"
)

// AllocError carries a code, a message, optional details and the underlying cause.
type AllocError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *AllocError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AllocError) Unwrap() error {
	return e.Cause
}

// Is matches any AllocError with the same code.
func (e *AllocError) Is(target error) bool {
	t, ok := target.(*AllocError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *AllocError) WithDetail(key string, value interface{}) *AllocError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrPageInit       = &AllocError{Code: CodePageInit, Message: "page subsystem initialization failed"}
	ErrNativeInit     = &AllocError{Code: CodeNativeInit, Message: "native memory initialization failed"}
	ErrNoMemory       = &AllocError{Code: CodeResourceExhausted, Message: "no memory available for arena"}
	ErrNilLargePool   = &AllocError{Code: CodeInvalidArgument, Message: "pool requires a large pool"}
	ErrArenaTooSmall  = &AllocError{Code: CodeInvalidArgument, Message: "arena smaller than one block"}
	ErrNotConstructed = &AllocError{Code: CodeInternal, Message: "allocator not constructed"}
)

// New creates a new AllocError with the given code and message.
func New(code, message string) *AllocError {
	return &AllocError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AllocError.
func Wrap(err error, code, message string) *AllocError {
	if err == nil {
		return nil
	}
	return &AllocError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *AllocError {
	if err == nil {
		return nil
	}
	return &AllocError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var allocErr *AllocError
	if errors.As(err, &allocErr) {
		return allocErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var allocErr *AllocError
	if errors.As(err, &allocErr) {
		return allocErr.Message
	}
	return err.Error()
}

// IsExhausted reports whether err signals that no memory could be obtained.
func IsExhausted(err error) bool {
	return GetCode(err) == CodeResourceExhausted
}
