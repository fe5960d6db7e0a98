// Package errors provides standardized error handling for the delivery engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidRecipient  ErrorCode = "INVALID_RECIPIENT"
	ErrCodeTemplateNotFound  ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateRender    ErrorCode = "TEMPLATE_RENDER_FAILED"
	ErrCodeMissingVariable   ErrorCode = "TEMPLATE_MISSING_VARIABLE"
	ErrCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeProviderTransient ErrorCode = "PROVIDER_TRANSIENT_ERROR"
	ErrCodeProviderPermanent ErrorCode = "PROVIDER_PERMANENT_ERROR"
	ErrCodeProviderTimeout   ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeDatabaseFailed    ErrorCode = "DATABASE_OPERATION_FAILED"
	ErrCodeNotFound          ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeConflict          ErrorCode = "STATUS_CONFLICT"
	ErrCodeSystemTemplate    ErrorCode = "SYSTEM_TEMPLATE_PROTECTED"
	ErrCodeSignatureInvalid  ErrorCode = "CALLBACK_SIGNATURE_INVALID"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is makes StandardError comparable by code via errors.Is.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// CodeOf extracts the ErrorCode from any error, or "" when it is not a StandardError.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether an error is worth another delivery attempt.
// Unknown (non-Standard) errors are treated as retryable so infrastructure
// hiccups do not permanently fail a notification.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// NewValidationError creates a non-retryable request validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRecipientError creates a non-retryable recipient error.
func NewInvalidRecipientError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Recipient address is missing or malformed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template lookup error.
func NewTemplateNotFoundError(tenantID, eventType, channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "No template found for tenant/event/channel",
		Details:   fmt.Sprintf("tenant: %s, event: %s, channel: %s", tenantID, eventType, channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingVariableError creates a non-retryable render error naming the variable.
func NewMissingVariableError(variable string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingVariable,
		Message:   fmt.Sprintf("missing variable %s", variable),
		Details:   fmt.Sprintf("variable: %s", variable),
		Retryable: false,
		Metadata:  map[string]interface{}{"variable": variable},
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateRenderError creates a non-retryable render error.
func NewTemplateRenderError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateRender,
		Message:   "Template rendering failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQuotaExceededError creates a non-retryable quota error.
func NewQuotaExceededError(tenantID, channel, window string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQuotaExceeded,
		Message:   "Tenant send quota exhausted",
		Details:   fmt.Sprintf("tenant: %s, channel: %s, window: %s", tenantID, channel, window),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientProviderError creates a retryable provider error (network, 5xx).
func NewTransientProviderError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTransient,
		Message:   fmt.Sprintf("Provider '%s' transient failure", provider),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermanentProviderError creates a non-retryable provider rejection.
func NewPermanentProviderError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderPermanent,
		Message:   fmt.Sprintf("Provider '%s' rejected the message", provider),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a retryable timeout error.
func NewProviderTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   fmt.Sprintf("Provider '%s' call timed out", provider),
		Details:   "adapter call exceeded its deadline",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError creates a retryable backing-store error.
func NewDatabaseError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseFailed,
		Message:   "Backing store operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusConflictError creates a non-retryable state machine violation error.
func NewStatusConflictError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConflict,
		Message:   "Illegal notification status transition",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemTemplateError creates a non-retryable protected-template error.
func NewSystemTemplateError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSystemTemplate,
		Message:   "System templates cannot be modified or deleted",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSignatureInvalidError creates a non-retryable callback verification error.
func NewSignatureInvalidError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSignatureInvalid,
		Message:   "Provider callback signature verification failed",
		Details:   fmt.Sprintf("provider: %s", provider),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
