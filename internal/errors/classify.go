package errors

import "strings"

// Classify maps a raw capability-layer error into the payment error taxonomy.
// The wallet capability is an opaque external library; the only reliable
// signal it gives us is the error message, so classification is by message
// inspection. Already-classified errors pass through unchanged.
func Classify(err error) *PaymentError {
	if err == nil {
		return nil
	}

	if pe, ok := err.(*PaymentError); ok {
		return pe
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"):
		return Wrap(ErrCodeInsufficientFunds, "amount exceeds available balance", err)

	case strings.Contains(msg, "expired"):
		return Wrap(ErrCodeInvoiceExpired, "invoice has expired", err)

	case strings.Contains(msg, "not connected"),
		strings.Contains(msg, "no wallet"):
		return Wrap(ErrCodeNotConnected, "no active wallet connection", err)

	case strings.Contains(msg, "network"),
		strings.Contains(msg, "offline"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "dial"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return Wrap(ErrCodeNetworkError, "network connection issue", err)

	case strings.Contains(msg, "circuit breaker is open"),
		strings.Contains(msg, "too many requests"):
		return Wrap(ErrCodeRelayUnavailable, "relay temporarily unavailable", err)

	case strings.Contains(msg, "invalid invoice"),
		strings.Contains(msg, "malformed"):
		return Wrap(ErrCodeInvalidInput, "invoice could not be parsed", err)

	default:
		return Wrap(ErrCodePaymentRejected, "payment could not be completed", err)
	}
}

// UserMessage returns a message suitable for end-user display. Fatal classes
// get a blocking explanation; pending never reaches here (it is not an error).
func UserMessage(code ErrorCode) string {
	switch code {
	case ErrCodeInsufficientFunds:
		return "Insufficient funds to complete this payment."
	case ErrCodeInvoiceExpired:
		return "This invoice has expired. Please request a new one."
	case ErrCodeNotConnected:
		return "Wallet connection issue. Please reconnect your wallet."
	case ErrCodeNetworkError, ErrCodeRelayUnavailable:
		return "Network connection issue. Please check your connection and try again."
	case ErrCodeInvalidInput:
		return "The invoice could not be parsed. Please try again."
	case ErrCodePaymentRejected:
		return "Payment could not be delivered. Please check your transaction history to confirm status."
	default:
		return "Something went wrong. Please try again."
	}
}
