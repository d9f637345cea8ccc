// Package engine implements the date request lifecycle state machine: the
// approval decision, the date proposal/confirmation handshake and the
// terminal disposition of the deposit.  Every mutation funnels through the
// store's guarded updates so concurrent callers can never both move a
// deposit out of HELD.
package engine

import (
    "fmt"
    "time"
)

// AuthorizationError reports that the acting user is not a valid party for
// the attempted operation.  Handlers translate it into HTTP 403.
type AuthorizationError struct {
    Op      string
    ActorID uint64
}

func (e *AuthorizationError) Error() string {
    return fmt.Sprintf("%s: user %d is not authorized", e.Op, e.ActorID)
}

// InvalidStateError reports an action attempted from a state that forbids
// it.  Reason is user-facing; "already refunded", "already released" and
// the confirmation-gating message are deliberately distinct so callers can
// tell them apart.  Handlers translate it into HTTP 409.
type InvalidStateError struct {
    Op     string
    Reason string
}

func (e *InvalidStateError) Error() string {
    return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// NotFoundError reports that the request ID does not resolve.
type NotFoundError struct {
    RequestID uint64
}

func (e *NotFoundError) Error() string {
    return fmt.Sprintf("date request %d not found", e.RequestID)
}

// ExpiredError reports an approval attempted after the request's expiry.
// Decline is exempt from this check.
type ExpiredError struct {
    RequestID uint64
    ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
    return fmt.Sprintf("date request %d expired at %s", e.RequestID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// PaymentGatewayError wraps a payment processor failure with enough
// context (request and operation) to support a manual retry.
type PaymentGatewayError struct {
    RequestID uint64
    Op        string
    Err       error
}

func (e *PaymentGatewayError) Error() string {
    return fmt.Sprintf("payment gateway %s failed for request %d: %v", e.Op, e.RequestID, e.Err)
}

func (e *PaymentGatewayError) Unwrap() error { return e.Err }
