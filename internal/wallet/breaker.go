package wallet

import (
	"context"

	"github.com/buhogo/payd/internal/circuitbreaker"
)

// BreakerCapability wraps a Capability with per-operation circuit breakers.
// Pay and lookup trip independently: a relay that answers lookups but drops
// pay calls should not block reconciliation, and vice versa.
type BreakerCapability struct {
	inner    Capability
	breakers *circuitbreaker.Manager
}

// WithBreakers wraps the capability in circuit breaker protection.
func WithBreakers(inner Capability, breakers *circuitbreaker.Manager) *BreakerCapability {
	return &BreakerCapability{inner: inner, breakers: breakers}
}

func (c *BreakerCapability) PayInvoice(ctx context.Context, invoice string) (bool, error) {
	res, err := c.breakers.Execute(circuitbreaker.ServiceRelayPay, func() (interface{}, error) {
		return c.inner.PayInvoice(ctx, invoice)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (c *BreakerCapability) LookupInvoice(ctx context.Context, invoice string) (LookupResult, error) {
	res, err := c.breakers.Execute(circuitbreaker.ServiceRelayLookup, func() (interface{}, error) {
		return c.inner.LookupInvoice(ctx, invoice)
	})
	if err != nil {
		return LookupResult{}, err
	}
	return res.(LookupResult), nil
}

func (c *BreakerCapability) Balance(ctx context.Context) (int64, bool, error) {
	type balanceResult struct {
		sats int64
		ok   bool
	}
	res, err := c.breakers.Execute(circuitbreaker.ServiceRelayLookup, func() (interface{}, error) {
		sats, ok, err := c.inner.Balance(ctx)
		return balanceResult{sats: sats, ok: ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	br := res.(balanceResult)
	return br.sats, br.ok, nil
}
