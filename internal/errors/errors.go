// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotLoggedIn         = errors.New("not logged in: offline token missing")
	ErrAlreadyRegistered   = errors.New("user is already registered")
	ErrEmailRequired       = errors.New("email required")
	ErrEmailNotVerified    = errors.New("email must be verified")
	ErrTokenExpired        = errors.New("partner token expired")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrQuoteExpired        = errors.New("quote expired")
	ErrBelowMinimum        = errors.New("amount below minimum")
	ErrAboveLimit          = errors.New("amount above remaining limit")
	ErrReadOnly            = errors.New("record is read-only")
	ErrProfileIncomplete   = errors.New("profile incomplete")
	ErrAlreadySubmitted    = errors.New("profile already submitted")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrInvalidTrade        = errors.New("invalid trade data")
	ErrInvalidPhotoSlot    = errors.New("invalid photo slot")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDataNotFound        = errors.New("data not found")
	ErrDatabaseError       = errors.New("database error")
)

// VendorError is a request the exchange accepted at the transport level but
// rejected through its status_code field.
type VendorError struct {
	Code    int
	Message string
}

func (e *VendorError) Error() string {
	return e.Message
}

// NewVendorError creates a new VendorError.
func NewVendorError(code int, message string) *VendorError {
	return &VendorError{
		Code:    code,
		Message: message,
	}
}

// TransportError represents a non-2xx HTTP response.
type TransportError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error [%s %s] %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// NewTransportError creates a new TransportError.
func NewTransportError(method, endpoint string, statusCode int, body string) *TransportError {
	return &TransportError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Body:       body,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
