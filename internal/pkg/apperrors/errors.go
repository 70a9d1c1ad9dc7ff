package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrValidation          ErrorType = "VALIDATION_ERROR"
	ErrPolicyNotFound      ErrorType = "POLICY_NOT_FOUND"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrFraudBlocked        ErrorType = "FRAUD_BLOCKED"
	ErrConcurrencyConflict ErrorType = "CONCURRENCY_CONFLICT"
	ErrExternalDependency  ErrorType = "EXTERNAL_DEPENDENCY"
	ErrAuthFailed          ErrorType = "AUTH_FAILED"
	ErrRateLimited         ErrorType = "RATE_LIMITED"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
	ErrNotFound            ErrorType = "NOT_FOUND"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType      `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		Retryable:  errType == ErrConcurrencyConflict,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewValidation(format string, args ...any) *AppError {
	return New(ErrValidation, fmt.Sprintf(format, args...), nil)
}

func NewPolicyNotFound(tenantID string) *AppError {
	e := New(ErrPolicyNotFound, "no policy configured for tenant "+tenantID, nil)
	e.Details = map[string]any{"tenant_id": tenantID}
	return e
}

func NewInsufficientBalance(requested, available int64) *AppError {
	e := New(ErrInsufficientBalance, fmt.Sprintf("insufficient balance: requested %d, available %d", requested, available), nil)
	e.Details = map[string]any{"requested": requested, "available": available}
	return e
}

// NewFraudBlocked carries the risk tier so callers can tell a band denial from a pattern block.
func NewFraudBlocked(tier, action string, score int) *AppError {
	e := New(ErrFraudBlocked, fmt.Sprintf("operation blocked by fraud screening (%s)", action), nil)
	e.Details = map[string]any{"tier": tier, "action": action, "score": score}
	return e
}

func NewConcurrencyConflict(msg string, cause error) *AppError {
	return New(ErrConcurrencyConflict, msg, cause)
}

func NewExternalDependency(sink string, cause error) *AppError {
	e := New(ErrExternalDependency, sink+" delivery failed", cause)
	e.Retryable = true
	return e
}

func NewNotFound(format string, args ...any) *AppError {
	return New(ErrNotFound, fmt.Sprintf(format, args...), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrValidation, msg, nil)
}

// IsType reports whether err wraps an AppError of type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrPolicyNotFound, ErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ErrFraudBlocked:
		return http.StatusForbidden
	case ErrConcurrencyConflict:
		return http.StatusConflict
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrReadOnly:
		return http.StatusServiceUnavailable
	case ErrNotFound:
		return http.StatusNotFound
	case ErrExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrPolicyNotFound:
		return "Configure policy rules or a default policy for the tenant."
	case ErrInsufficientBalance:
		return "Redeem a smaller amount or wait for pending points to become available."
	case ErrFraudBlocked:
		return "Contact support for manual review."
	case ErrConcurrencyConflict:
		return "Retry the request."
	case ErrAuthFailed:
		return "Check API keys."
	case ErrReadOnly:
		return "Wait for maintenance to finish."
	default:
		return ""
	}
}
