package engine

import (
    "context"
    "time"

    "github.com/datesafe/datesafe-server/internal/model"
)

// RequestStore is the persistence contract the engine runs against.  It is
// always injected, never a package global, so tests can substitute the
// in-memory implementation.
//
// Apply is the concurrency enforcement point of the whole system: the
// implementation must evaluate the update's guard and perform the write as
// one atomic step (a conditional UPDATE, or an equivalent mutex-guarded
// read-modify-write) and return repository.ErrStateConflict when the guard
// does not hold.  No two concurrent Apply calls may both observe
// deposit_status = HELD and both move it to a terminal state.
type RequestStore interface {
    Create(ctx context.Context, req *model.DateRequest) error
    Get(ctx context.Context, id uint64) (*model.DateRequest, error)
    Apply(ctx context.Context, id uint64, update model.RequestUpdate) (*model.DateRequest, error)

    // ExpiredPending returns requests still PENDING whose expiry has passed.
    ExpiredPending(ctx context.Context, now time.Time) ([]*model.DateRequest, error)
    // ConfirmedHeld returns approved, mutually confirmed requests whose
    // deposit is still HELD and therefore releasable.
    ConfirmedHeld(ctx context.Context) ([]*model.DateRequest, error)
    // ListByParty returns every request the user sent or received, newest
    // first.
    ListByParty(ctx context.Context, userID uint64) ([]*model.DateRequest, error)
}

// PaymentLog records the local Payment rows that mirror processor state.
// Failures here are plumbing failures, not lifecycle failures; callers
// decide whether they are fatal.
type PaymentLog interface {
    Record(ctx context.Context, requestID uint64, paymentRef string, amountCents int64, status model.PaymentStatus) error
    SetStatusByRequest(ctx context.Context, requestID uint64, status model.PaymentStatus) error
}

// Notifier delivers state-transition notifications to users.  Delivery is
// fire-and-forget: implementations log failures and never return them into
// the lifecycle path, so the engine ignores the error beyond logging.
type Notifier interface {
    Notify(ctx context.Context, userID uint64, eventType string, payload map[string]any) error
}
