package core

import (
	"fmt"
)

// ErrorKind classifies a driver or client failure.
type ErrorKind string

const (
	// KindConfiguration covers missing or invalid backend configuration.
	KindConfiguration ErrorKind = "configuration"

	// KindValidation covers malformed addresses and other rejected input.
	KindValidation ErrorKind = "validation"

	// KindUnsupported is returned when a backend lacks the requested capability.
	KindUnsupported ErrorKind = "unsupported"

	// KindTransport covers network, HTTP and SMTP failures.
	KindTransport ErrorKind = "transport"

	// KindComposition covers messages that cannot be built from the accumulated state.
	KindComposition ErrorKind = "composition"
)

// Error is the structured result recorded by drivers when an operation fails.
// It is never panicked or returned from mutators; callers fetch it with LastError.
type Error struct {
	// Driver is the kind of the driver that recorded the error (empty for client errors).
	Driver string

	// Kind is the error category.
	Kind ErrorKind

	// Code is the backend status code when one is available (HTTP status,
	// SMTP reply code, provider error code), otherwise zero.
	Code int

	// Message is a human readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Driver != "" {
		prefix = e.Driver + " " + prefix
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", prefix, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so the sentinel values below
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Driver == "" || t.Driver == e.Driver)
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrUnsupported   = &Error{Kind: KindUnsupported}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrComposition   = &Error{Kind: KindComposition}
)

// NewError creates a new driver error.
func NewError(driver string, kind ErrorKind, code int, message string) *Error {
	return &Error{
		Driver:  driver,
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// WrapError creates a new driver error with an underlying cause.
func WrapError(driver string, kind ErrorKind, code int, message string, cause error) *Error {
	return &Error{
		Driver:  driver,
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a construction-time configuration error.
func NewConfigurationError(driver, message string) *Error {
	return NewError(driver, KindConfiguration, 0, message)
}

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is.
func (e *ValidationError) Is(target error) bool {
	switch t := target.(type) {
	case *ValidationError:
		return true
	case *Error:
		return t.Kind == KindValidation && t.Driver == ""
	}
	return false
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// AsError converts any error into a driver *Error of the given kind,
// keeping an existing *Error or ValidationError classification.
func AsError(driver string, kind ErrorKind, err error) *Error {
	switch e := err.(type) {
	case nil:
		return nil
	case *Error:
		if e.Driver == "" {
			c := *e
			c.Driver = driver
			return &c
		}
		return e
	case *ValidationError:
		return WrapError(driver, KindValidation, 0, e.Error(), e)
	}
	return WrapError(driver, kind, 0, err.Error(), err)
}
