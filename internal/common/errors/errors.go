// Package errors provides structured error handling for the directory sync services
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrForbidden  ErrorCode = "FORBIDDEN"
	ErrConflict   ErrorCode = "CONFLICT"

	// Tenant errors
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Data errors
	ErrMalformedData ErrorCode = "MALFORMED_DATA"

	// Storage errors
	ErrDatabase ErrorCode = "DATABASE_ERROR"

	// External service errors
	ErrDirectory  ErrorCode = "DIRECTORY_ERROR"
	ErrRedisError ErrorCode = "REDIS_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Err      error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Internal creates an internal error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
	}
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
	}
}

// QuotaExceeded creates a tenant quota error
func QuotaExceeded(quota string, limit int) *AppError {
	return (&AppError{
		Code:    ErrQuotaExceeded,
		Message: "Tenant quota exceeded",
		Details: quota,
	}).WithMetadata("limit", limit)
}

// MalformedData creates a malformed data error for a single field
func MalformedData(field, value string) *AppError {
	return (&AppError{
		Code:    ErrMalformedData,
		Message: "Malformed value",
		Details: field,
	}).WithMetadata("value", value)
}

// DatabaseError creates a database error
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrDatabase,
		Message: "Database operation failed",
		Details: operation,
		Err:     err,
	}
}

// DirectoryError creates an LDAP directory error
func DirectoryError(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrDirectory,
		Message: "Directory operation failed",
		Details: operation,
		Err:     err,
	}
}

// UserNotFound creates a user not found error
func UserNotFound(userID string) *AppError {
	return (&AppError{
		Code:    ErrNotFound,
		Message: "User not found",
	}).WithMetadata("user_id", userID)
}

// GroupNotFound creates a group not found error
func GroupNotFound(groupID string) *AppError {
	return (&AppError{
		Code:    ErrNotFound,
		Message: "Group not found",
	}).WithMetadata("group_id", groupID)
}

// IsErrorCode checks if an error, or any error it wraps, has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in the chain, or ErrInternal
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
