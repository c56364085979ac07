package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable domain error code used by ledger validations.
type ErrorCode string

const (
	// ErrorInsufficientFunds indicates the available balance cannot cover the amount.
	ErrorInsufficientFunds ErrorCode = "0018"
	// ErrorDataCorruption indicates a held balance is inconsistent with its reservations.
	ErrorDataCorruption ErrorCode = "0099"
	// ErrorInvalidInput indicates request validation failed.
	ErrorInvalidInput ErrorCode = "1001"
	// ErrorInvalidStateTransition indicates a reservation was settled more than once.
	ErrorInvalidStateTransition ErrorCode = "1002"
)

// DomainError represents a structured ledger validation error.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// CodeOf extracts the domain error code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	return ""
}

// IsInsufficientFunds reports whether err is an insufficient-funds rejection.
func IsInsufficientFunds(err error) bool {
	return CodeOf(err) == ErrorInsufficientFunds
}

// IsReservationSettled reports whether err is a double-settle rejection.
func IsReservationSettled(err error) bool {
	return CodeOf(err) == ErrorInvalidStateTransition
}
