// Package wallet abstracts the remote Lightning wallet the coordinator
// pays through. The concrete transport is a wallet relay bridge spoken to
// over WebSocket; everything above this package depends only on Capability.
package wallet

import "context"

// LookupState is the outcome of an invoice status lookup.
type LookupState string

const (
	// LookupSettled means the invoice is confirmed paid.
	LookupSettled LookupState = "settled"
	// LookupNotSettled means the invoice exists but has not settled.
	LookupNotSettled LookupState = "not_settled"
	// LookupNotFound means the wallet has no record of the invoice. This
	// is not a failure disposition: the payment may still be routing.
	LookupNotFound LookupState = "not_found"
)

// LookupResult carries the state of one invoice lookup.
type LookupResult struct {
	State    LookupState
	Preimage string // set when settled, if the wallet reports it
}

// Capability is the minimal wallet surface the payment core needs.
// Implementations must honor context cancellation on every call.
type Capability interface {
	// PayInvoice submits the invoice for payment and blocks until the
	// wallet responds. It returns true iff the network layer accepted
	// delivery; false with a nil error means a definitive rejection.
	PayInvoice(ctx context.Context, invoice string) (bool, error)

	// LookupInvoice reports the current settlement state of an invoice.
	LookupInvoice(ctx context.Context, invoice string) (LookupResult, error)

	// Balance returns the spendable balance in satoshis. Implementations
	// that cannot report a balance return ok=false; callers skip the
	// funds precheck in that case.
	Balance(ctx context.Context) (sats int64, ok bool, err error)
}
