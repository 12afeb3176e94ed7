/*
Package rincewind – error types.

Configuration mistakes surface as *ConfigError, everything else as *Error
carrying an ErrorCode category.
*/
package rincewind

import (
	"errors"
	"fmt"
)

// ErrorCode is a well-known error category string.
type ErrorCode string

const (
	ErrConfiguration ErrorCode = "ConfigurationError"
	ErrNotFound      ErrorCode = "NotFoundError"
	ErrCoercion      ErrorCode = "CoercionError"
	ErrIntegrity     ErrorCode = "IntegrityError"
	ErrNotSupported  ErrorCode = "NotSupportedError"
	ErrBackend       ErrorCode = "BackendError"
	ErrArgument      ErrorCode = "ArgumentError"
	ErrReadOnly      ErrorCode = "ReadOnlyError"
)

// Error is the general runtime error. It carries an optional Code and
// a free-form Context map for extra debugging data.
type Error struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error

	// Value is the fallback produced by a recoverable coercion failure.
	Value any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error.
func NewError(msg string, opts ...func(*Error)) *Error {
	err := &Error{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*Error) {
	return func(e *Error) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*Error) {
	return func(e *Error) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*Error) {
	return func(e *Error) { e.Cause = cause }
}

// withValue records the fallback value of a recoverable coercion.
func withValue(v any) func(*Error) {
	return func(e *Error) { e.Value = v }
}

// ConfigError reports a programming mistake in Dao setup: unknown attribute
// names, missing reference declarations, invalid definitions. It must never be
// swallowed.
type ConfigError struct {
	Message string
	Dao     string
	Context map[string]any
}

func (e *ConfigError) Error() string {
	if e.Dao != "" {
		return fmt.Sprintf("[%s] %s: %s", ErrConfiguration, e.Dao, e.Message)
	}
	return fmt.Sprintf("[%s] %s", ErrConfiguration, e.Message)
}

// NewConfigError constructs a ConfigError.
func NewConfigError(dao, msg string) *ConfigError {
	return &ConfigError{Message: msg, Dao: dao}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if code == ErrConfiguration {
		return IsConfigError(err)
	}
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return HasCode(err, ErrNotFound) }

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// notFound builds the not-found error returned by Get.
func notFound(dao string, ctx map[string]any) *Error {
	return NewError(fmt.Sprintf(`No "%s" record matches the predicate`, dao),
		WithCode(ErrNotFound), WithContext(ctx))
}

// backendError wraps a native driver failure. Errors the driver already
// classified pass through.
func backendError(dao, op string, cause error) error {
	var e *Error
	var ce *ConfigError
	if errors.As(cause, &e) || errors.As(cause, &ce) {
		return cause
	}
	return NewError(fmt.Sprintf(`Backing resource failed during "%s" on "%s"`, op, dao),
		WithCode(ErrBackend), WithCause(cause), WithContext(map[string]any{"dao": dao, "op": op}))
}
