// Package payment wraps the external payment processor behind a small
// adapter interface.  The processor itself (card capture, ledger, payouts)
// is out of scope; the adapter only needs hold, refund and status lookups,
// and it must be safe to call at least once per logical operation.
package payment

import "context"

// RefundResult describes the outcome of a refund (or release, which is a
// refund to the requester) as reported by the processor.
type RefundResult struct {
    RefundID    string `json:"refund_id"`
    AmountCents int64  `json:"amount_cents"`
    Status      string `json:"status"`
}

// Gateway is the adapter contract consumed by the lifecycle engine.
//
// CreateHold places a hold for the given amount and returns the processor
// reference.  Refund returns held funds; amountCents = 0 means the full
// held amount.  HoldStatus reports the processor-side state of a hold.
//
// Every mutating call is tagged with an idempotency key derived from the
// request ID and operation, so a retry after a local failure cannot move
// money twice.
type Gateway interface {
    CreateHold(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (string, error)
    Refund(ctx context.Context, holdRef string, amountCents int64) (RefundResult, error)
    HoldStatus(ctx context.Context, holdRef string) (string, error)
}
