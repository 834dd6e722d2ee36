package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of SDK error.
type ErrorCode string

const (
	// ErrCodeNormalization indicates a malformed or incomplete server response. Never persisted.
	ErrCodeNormalization ErrorCode = "normalization"
	// ErrCodeAuthRejected indicates the identity API rejected the credentials (401, invalid_grant).
	// Fatal: requires re-authentication and is never retried.
	ErrCodeAuthRejected ErrorCode = "auth_rejected"
	// ErrCodeTransient indicates a timeout, 5xx, or connectivity failure. Retryable.
	ErrCodeTransient ErrorCode = "transient_network"
	// ErrCodeValidation indicates invalid client-side input; no network call was made.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeMigration indicates a storage migration failure; the original session is preserved.
	ErrCodeMigration ErrorCode = "migration"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured error with a code, a human-readable message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Normalization creates a new Normalization error.
func Normalization(message string) *AppError {
	return &AppError{Code: ErrCodeNormalization, Message: message}
}

// Normalizationf creates a new Normalization error with formatted message.
func Normalizationf(format string, args ...any) *AppError {
	return newf(ErrCodeNormalization, format, args...)
}

// AuthRejected creates a new AuthRejected error.
func AuthRejected(message string) *AppError {
	return &AppError{Code: ErrCodeAuthRejected, Message: message}
}

// Transient creates a new TransientNetwork error.
func Transient(message string) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Migration creates a new Migration error.
func Migration(message string) *AppError {
	return &AppError{Code: ErrCodeMigration, Message: message}
}

// Migrationf creates a new Migration error with formatted message.
func Migrationf(format string, args ...any) *AppError {
	return newf(ErrCodeMigration, format, args...)
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNormalization checks if an error is a Normalization error.
func IsNormalization(err error) bool { return isCode(err, ErrCodeNormalization) }

// IsAuthRejected checks if an error is an AuthRejected error.
func IsAuthRejected(err error) bool { return isCode(err, ErrCodeAuthRejected) }

// IsTransient reports whether err is retryable: transient network errors and timeouts.
func IsTransient(err error) bool {
	return isCode(err, ErrCodeTransient) || isCode(err, ErrCodeTimeout)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsMigration checks if an error is a Migration error.
func IsMigration(err error) bool { return isCode(err, ErrCodeMigration) }

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool { return isCode(err, ErrCodeInternal) }

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool { return isCode(err, ErrCodeCanceled) }

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// UserMessage returns the human-readable message of the outermost AppError,
// falling back to a generic message so raw server payloads never reach the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Something went wrong. Please try again."
}
