package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to clients.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeValidation    = "VALIDATION_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeSecurity      = "SECURITY_ERROR"
	CodeGateway       = "GATEWAY_ERROR"
	CodePaymentFailed = "PAYMENT_FAILED"
	CodeRetryLater    = "RETRY_LATER"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

// ErrSecurity reports a confirmation whose signature or order reference did not match.
func ErrSecurity(msg string) *AppError {
	return &AppError{Code: CodeSecurity, Message: msg, Status: 401}
}

func ErrGateway(msg string, cause error) *AppError {
	return &AppError{Code: CodeGateway, Message: msg, Status: 502, Cause: cause}
}

// ErrPaymentFailed is returned for any operation against a payment already in FAILED.
func ErrPaymentFailed(paymentID string) *AppError {
	return &AppError{Code: CodePaymentFailed, Message: fmt.Sprintf("payment %s has failed", paymentID), Status: 409}
}

// ErrRetryLater asks the caller (usually the gateway) to redeliver.
func ErrRetryLater(msg string, cause error) *AppError {
	return &AppError{Code: CodeRetryLater, Message: msg, Status: 503, Cause: cause}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
