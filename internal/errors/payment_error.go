package errors

import "fmt"

// PaymentError carries a classified error code across the component boundary.
// Raw capability-layer errors are wrapped, never exposed directly to callers.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// New creates a PaymentError with the given code and message.
func New(code ErrorCode, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}

// Wrap creates a PaymentError wrapping an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the ErrorCode from an error, or ErrCodeInternalError
// when the error was never classified.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*PaymentError); ok {
		return pe.Code
	}
	return ErrCodeInternalError
}
