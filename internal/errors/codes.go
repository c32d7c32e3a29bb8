package errors

// ErrorCode represents a machine-readable error identifier for API consumers.
type ErrorCode string

// Submission errors (fail fast, before the remote call is issued)
const (
	ErrCodeNotConnected ErrorCode = "not_connected"
	ErrCodeInvalidInput ErrorCode = "invalid_input"
)

// Payment errors (the remote wallet service rejected or could not complete the attempt)
const (
	ErrCodeInsufficientFunds ErrorCode = "insufficient_funds"
	ErrCodeInvoiceExpired    ErrorCode = "invoice_expired"
	ErrCodePaymentRejected   ErrorCode = "payment_rejected"
	ErrCodeRelayTimeout      ErrorCode = "relay_timeout"
)

// External service errors
const (
	ErrCodeNetworkError     ErrorCode = "network_error"
	ErrCodeRelayUnavailable ErrorCode = "relay_unavailable"
)

// Resource/State errors
const (
	ErrCodeAttemptNotFound ErrorCode = "attempt_not_found"
	ErrCodeAttemptInFlight ErrorCode = "attempt_in_flight"
	ErrCodeAttemptTerminal ErrorCode = "attempt_terminal"
)

// Internal/System errors
const (
	ErrCodeStorageDegraded ErrorCode = "storage_degraded"
	ErrCodeInternalError   ErrorCode = "internal_error"
	ErrCodeConfigError     ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors may be re-submitted with the SAME idempotency key; the
// ledger entry is still present, so a retry cannot double-pay.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeNetworkError,
		ErrCodeRelayUnavailable,
		ErrCodeStorageDegraded:
		return true

	// Validation failures and definitive rejections are NOT retryable
	default:
		return false
	}
}

// IsTerminal reports whether the code ends the attempt (ledger entry removed).
// RelayTimeout is deliberately non-terminal: it hands the attempt off to the
// settlement watcher instead of failing it.
func (e ErrorCode) IsTerminal() bool {
	switch e {
	case ErrCodeInsufficientFunds,
		ErrCodeInvoiceExpired,
		ErrCodePaymentRejected:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeInvalidInput:
		return 400

	// 402 Payment Required - the wallet service refused the payment
	case ErrCodeInsufficientFunds,
		ErrCodeInvoiceExpired,
		ErrCodePaymentRejected:
		return 402

	// 404 Not Found
	case ErrCodeAttemptNotFound:
		return 404

	// 409 Conflict - attempt state conflicts
	case ErrCodeAttemptInFlight,
		ErrCodeAttemptTerminal:
		return 409

	// 502 Bad Gateway - external service errors
	case ErrCodeNetworkError,
		ErrCodeRelayUnavailable:
		return 502

	// 503 Service Unavailable - no wallet capability connected
	case ErrCodeNotConnected:
		return 503

	// 500 Internal Server Error
	default:
		return 500
	}
}
