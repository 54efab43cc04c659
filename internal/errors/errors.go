// Package errors provides the error taxonomy for the lead concierge.
// It classifies failures by code and kind and maps them to HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for different error categories.
const (
	// Validation errors
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeMissingField  Code = "MISSING_FIELD"
	CodeInvalidFormat Code = "INVALID_FORMAT"

	// Resource errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// External service errors
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeTimeout         Code = "TIMEOUT"
	CodeLLMUnavailable  Code = "LLM_UNAVAILABLE"
	CodeMessaging       Code = "MESSAGING_ERROR"

	// Internal errors
	CodeInternal    Code = "INTERNAL_ERROR"
	CodePersistence Code = "PERSISTENCE_ERROR"
	CodeConfig      Code = "CONFIG_ERROR"
)

// Kind represents the kind of error for classification.
type Kind int

const (
	// KindUnknown is an unknown error kind.
	KindUnknown Kind = iota
	// KindUser indicates bad input from the caller.
	KindUser
	// KindSystem indicates a local failure (storage, programming error).
	KindSystem
	// KindTransient indicates a temporary error that may succeed on retry.
	KindTransient
)

// Error is the base application error type.
type Error struct {
	// Code is the machine-readable error code.
	Code Code `json:"code"`
	// Message is the human-readable error message.
	Message string `json:"message"`
	// Kind classifies the error for handling decisions.
	Kind Kind `json:"-"`
	// Op is the operation being performed (e.g., "knowledge.AddFAQ").
	Op string `json:"-"`
	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeMissingField, CodeInvalidFormat:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService, CodeCircuitOpen, CodeLLMUnavailable, CodeMessaging:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetriable returns true if the error may succeed on retry.
func (e *Error) IsRetriable() bool {
	return e.Kind == KindTransient
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kindForCode(code),
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(err error, op string, code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kindForCode(code),
		Op:      op,
		Err:     err,
	}
}

func kindForCode(code Code) Kind {
	switch code {
	case CodeInvalidInput, CodeMissingField, CodeInvalidFormat, CodeNotFound, CodeConflict:
		return KindUser
	case CodeRateLimited, CodeTimeout, CodeCircuitOpen:
		return KindTransient
	case CodeExternalService, CodeLLMUnavailable, CodeMessaging:
		return KindTransient
	default:
		return KindSystem
	}
}

// Sentinel errors for common cases.
var (
	ErrNotFound    = New(CodeNotFound, "resource not found")
	ErrCircuitOpen = New(CodeCircuitOpen, "service temporarily unavailable")
	ErrRateLimited = New(CodeRateLimited, "rate limit exceeded")
)

// NotFound creates a not found error for a specific resource.
func NotFound(resource string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Kind:    KindUser,
	}
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Message: message,
		Kind:    KindUser,
	}
}

// LLMError creates an error for a failed language model call.
func LLMError(provider string, err error) *Error {
	return &Error{
		Code:    CodeLLMUnavailable,
		Message: fmt.Sprintf("llm provider %s unavailable", provider),
		Kind:    KindTransient,
		Err:     err,
	}
}

// MessagingError creates an error for a failed outbound message.
func MessagingError(op string, err error) *Error {
	return &Error{
		Code:    CodeMessaging,
		Message: "messaging provider error",
		Kind:    KindTransient,
		Op:      op,
		Err:     err,
	}
}

// PersistenceError creates an error for a failed blob read or write.
func PersistenceError(op string, err error) *Error {
	return &Error{
		Code:    CodePersistence,
		Message: "persistence operation failed",
		Kind:    KindSystem,
		Op:      op,
		Err:     err,
	}
}

// InternalError creates a generic internal error.
func InternalError(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Kind:    KindSystem,
		Err:     err,
	}
}

// GetCode extracts the error code, returning CodeInternal for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus extracts the HTTP status, returning 500 for foreign errors.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetriable()
	}
	return false
}
