package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
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

// Is matches on code so clones and wrapped copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrRateLimited        = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Attendance rule rejections. These are expected outcomes, not failures.
var (
	ErrTooEarly       = New("TOO_EARLY", http.StatusUnprocessableEntity, "attendance window has not opened yet")
	ErrTooLate        = New("TOO_LATE", http.StatusUnprocessableEntity, "attendance window has closed")
	ErrWindowInactive = New("WINDOW_INACTIVE", http.StatusUnprocessableEntity, "attendance window is not active")
	ErrIsBreak        = New("IS_BREAK", http.StatusUnprocessableEntity, "attendance cannot be marked during a break")
	ErrDuplicateMark  = New("DUPLICATE_MARK", http.StatusConflict, "attendance already marked for this window")
	ErrNotEnrolled    = New("NOT_ENROLLED", http.StatusForbidden, "student is not enrolled in this course")
)

// One-time password failures.
var (
	ErrOTPInvalid = New("OTP_INVALID", http.StatusBadRequest, "invalid one-time password")
	ErrOTPExpired = New("OTP_EXPIRED", http.StatusBadRequest, "one-time password has expired")
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
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
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

// IsRejection reports whether err is one of the attendance rule outcomes.
func IsRejection(err error) bool {
	for _, target := range []*Error{ErrTooEarly, ErrTooLate, ErrWindowInactive, ErrIsBreak, ErrDuplicateMark, ErrNotEnrolled} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
