package errors

import (
	"errors"
	"fmt"
)

// Error represents a typed store error identified by its code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones match their template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Predefined errors for the store taxonomy.
var (
	ErrDataNotFound           = New("DATA_NOT_FOUND", "data not found")
	ErrDataAlreadyExists      = New("DATA_ALREADY_EXISTS", "data already exists")
	ErrDataInvalid            = New("DATA_INVALID", "data invalid")
	ErrFileNotFound           = New("FILE_NOT_FOUND", "file not found")
	ErrFileAccessDenied       = New("FILE_ACCESS_DENIED", "file access denied")
	ErrFileCorrupted          = New("FILE_CORRUPTED", "file corrupted")
	ErrPermissionDenied       = New("PERMISSION_DENIED", "permission denied")
	ErrAuthenticationFailed   = New("AUTHENTICATION_FAILED", "invalid id or password")
	ErrCourseFull             = New("COURSE_FULL", "course is full")
	ErrAlreadyEnrolled        = New("ALREADY_ENROLLED", "student already enrolled in course")
	ErrNotEnrolled            = New("NOT_ENROLLED", "student not enrolled in course")
	ErrLockTimeout            = New("LOCK_TIMEOUT", "timed out acquiring lock")
	ErrLockFailure            = New("LOCK_FAILURE", "failed to acquire lock")
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", "concurrent modification detected")
	ErrInvalidInput           = New("INVALID_INPUT", "invalid input")
	ErrOperationFailed        = New("OPERATION_FAILED", "operation failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrOperationFailed.Code, ErrOperationFailed.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Wrapf wraps err with the code of template and a formatted message.
func Wrapf(err error, template *Error, format string, args ...interface{}) *Error {
	return &Error{Code: template.Code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Code returns the code of err, or an empty string when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
