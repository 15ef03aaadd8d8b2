package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Business errors: expected outcomes the handler renders as a distinct
	// user-visible message.
	ErrorCodeUserNotFound           ErrorCode = "USER_NOT_FOUND"
	ErrorCodeSelfReferral           ErrorCode = "SELF_REFERRAL"
	ErrorCodeSubscriptionExists     ErrorCode = "SUBSCRIPTION_ALREADY_EXISTS"
	ErrorCodeReferralExists         ErrorCode = "REFERRAL_ALREADY_EXISTS"
	ErrorCodeReferralCodeGeneration ErrorCode = "REFERRAL_CODE_GENERATION"
	ErrorCodeTariffNotFound         ErrorCode = "TARIFF_NOT_FOUND"
	ErrorCodeSubscriptionNotFound   ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrorCodeSubscriptionNotActive  ErrorCode = "SUBSCRIPTION_NOT_ACTIVE"
	ErrorCodePaymentNotFound        ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodePaymentProcessed       ErrorCode = "PAYMENT_ALREADY_PROCESSED"
	ErrorCodeTrialAlreadyUsed       ErrorCode = "TRIAL_ALREADY_USED"

	// Service-technical errors: unexpected failures wrapped per service.
	// Handlers render these as a single generic failure.
	ErrorCodeUserService         ErrorCode = "USER_SERVICE_ERROR"
	ErrorCodeSubscriptionService ErrorCode = "SUBSCRIPTION_SERVICE_ERROR"
	ErrorCodeReferralService     ErrorCode = "REFERRAL_SERVICE_ERROR"
	ErrorCodePaymentService      ErrorCode = "PAYMENT_SERVICE_ERROR"

	// Infrastructure errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Errorf creates a new domain error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return NewDomainError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsBusinessError reports whether the error carries one of the business codes
// that handlers render as a distinct message (as opposed to the generic
// internal failure).
func IsBusinessError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeUserNotFound, ErrorCodeSelfReferral, ErrorCodeSubscriptionExists,
		ErrorCodeReferralExists, ErrorCodeReferralCodeGeneration, ErrorCodeTariffNotFound,
		ErrorCodeSubscriptionNotFound, ErrorCodeSubscriptionNotActive,
		ErrorCodePaymentNotFound, ErrorCodePaymentProcessed, ErrorCodeTrialAlreadyUsed:
		return true
	}
	return false
}
