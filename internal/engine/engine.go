package engine

import (
    "context"
    "errors"
    "log"
    "strconv"
    "time"

    "github.com/datesafe/datesafe-server/internal/model"
    "github.com/datesafe/datesafe-server/internal/payment"
    "github.com/datesafe/datesafe-server/internal/repository"
)

// Engine orchestrates the date request lifecycle.  All dependencies are
// injected; the engine holds no global state and may be shared across
// goroutines because every mutation goes through the store's atomic
// guarded updates.
type Engine struct {
    store    RequestStore
    payments PaymentLog
    gateway  payment.Gateway
    notifier Notifier
    currency string
    ttl      time.Duration
    now      func() time.Time
}

// Options tunes engine behaviour.  Zero values fall back to USD and a 48
// hour approval window.
type Options struct {
    Currency   string
    RequestTTL time.Duration
    Now        func() time.Time
}

// New constructs an Engine.  Store, payments, gateway and notifier must be
// non-nil.
func New(store RequestStore, payments PaymentLog, gateway payment.Gateway, notifier Notifier, opts Options) *Engine {
    if store == nil || payments == nil || gateway == nil || notifier == nil {
        panic("nil dependency passed to engine.New")
    }
    if opts.Currency == "" {
        opts.Currency = "usd"
    }
    if opts.RequestTTL <= 0 {
        opts.RequestTTL = 48 * time.Hour
    }
    if opts.Now == nil {
        opts.Now = func() time.Time { return time.Now().UTC() }
    }
    return &Engine{
        store:    store,
        payments: payments,
        gateway:  gateway,
        notifier: notifier,
        currency: opts.Currency,
        ttl:      opts.RequestTTL,
        now:      opts.Now,
    }
}

// CreateRequestInput carries everything the requester submits when sending
// a date request.
type CreateRequestInput struct {
    RequesterID      uint64
    InviteeID        uint64
    DepositCents     int64
    IntroMessage     string
    SlotID           *uint64
    ScreeningAnswers *string
}

// CreateRequest persists a new PENDING request, asks the processor to open
// a hold for the deposit and records the pending payment.  The deposit
// stays PENDING until the processor's success webhook arrives; a request
// whose hold never succeeds simply expires and is swept without a refund.
func (e *Engine) CreateRequest(ctx context.Context, in CreateRequestInput) (*model.DateRequest, error) {
    if in.RequesterID == in.InviteeID {
        return nil, &InvalidStateError{Op: "create request", Reason: "cannot send a date request to yourself"}
    }
    if in.DepositCents <= 0 {
        return nil, &InvalidStateError{Op: "create request", Reason: "deposit amount must be positive"}
    }
    req := &model.DateRequest{
        RequesterID:    in.RequesterID,
        InviteeID:      in.InviteeID,
        ApprovalStatus: model.ApprovalPending,
        DepositStatus:  model.DepositPending,
        DepositCents:   in.DepositCents,
        IntroMessage:   in.IntroMessage,
        SlotID:         in.SlotID,
        ScreeningAnswers: in.ScreeningAnswers,
        ExpiresAt:      e.now().Add(e.ttl),
    }
    if err := e.store.Create(ctx, req); err != nil {
        return nil, err
    }
    holdRef, err := e.gateway.CreateHold(ctx, in.DepositCents, e.currency, map[string]string{
        "request_id":   strconv.FormatUint(req.ID, 10),
        "requester_id": strconv.FormatUint(in.RequesterID, 10),
        "invitee_id":   strconv.FormatUint(in.InviteeID, 10),
    })
    if err != nil {
        return nil, &PaymentGatewayError{RequestID: req.ID, Op: "create hold", Err: err}
    }
    if err := e.payments.Record(ctx, req.ID, holdRef, in.DepositCents, model.PaymentPending); err != nil {
        log.Printf("engine: record payment for request %d failed: %v", req.ID, err)
    }
    e.notify(ctx, in.InviteeID, "request.received", map[string]any{
        "request_id":    req.ID,
        "requester_id":  in.RequesterID,
        "deposit_cents": in.DepositCents,
    })
    return req, nil
}

// MarkDepositHeld applies the processor's "payment succeeded" event,
// moving the deposit PENDING -> HELD and pinning the hold reference.
// Duplicate webhook deliveries with the same reference are a no-op.
func (e *Engine) MarkDepositHeld(ctx context.Context, requestID uint64, holdRef string, amountCents int64) (*model.DateRequest, error) {
    updated, err := e.store.Apply(ctx, requestID, model.MarkHeldUpdate{HoldRef: holdRef})
    if err != nil {
        if errors.Is(err, repository.ErrRequestNotFound) {
            return nil, &NotFoundError{RequestID: requestID}
        }
        if errors.Is(err, repository.ErrStateConflict) {
            cur, getErr := e.store.Get(ctx, requestID)
            if getErr == nil && cur.DepositStatus == model.DepositHeld && cur.HoldRef != nil && *cur.HoldRef == holdRef {
                return cur, nil // duplicate delivery
            }
            return nil, &InvalidStateError{Op: "mark held", Reason: "deposit is not pending"}
        }
        return nil, err
    }
    if err := e.payments.Record(ctx, requestID, holdRef, amountCents, model.PaymentSucceeded); err != nil {
        log.Printf("engine: record succeeded payment for request %d failed: %v", requestID, err)
    }
    return updated, nil
}

// Approve records the invitee's acceptance.  Only the invitee may approve,
// only while the request is PENDING, and only before expiry; the expiry
// guard applies to approval alone (see Decline).  On success the chat
// between the parties is opened and the requester notified.
func (e *Engine) Approve(ctx context.Context, requestID, actorID uint64) (*model.DateRequest, error) {
    req, err := e.get(ctx, requestID)
    if err != nil {
        return nil, err
    }
    if actorID != req.InviteeID {
        return nil, &AuthorizationError{Op: "approve", ActorID: actorID}
    }
    if req.ApprovalStatus != model.ApprovalPending {
        return nil, alreadyDecided("approve", req.ApprovalStatus)
    }
    if !e.now().Before(req.ExpiresAt) {
        return nil, &ExpiredError{RequestID: requestID, ExpiresAt: req.ExpiresAt}
    }
    updated, err := e.store.Apply(ctx, requestID, model.ApproveUpdate{})
    if err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return nil, e.decisionConflict(ctx, requestID, "approve")
        }
        return nil, err
    }
    e.notify(ctx, req.RequesterID, "request.approved", map[string]any{"request_id": requestID})
    e.notify(ctx, req.RequesterID, "chat.opened", map[string]any{"request_id": requestID, "peer_id": req.InviteeID})
    e.notify(ctx, req.InviteeID, "chat.opened", map[string]any{"request_id": requestID, "peer_id": req.RequesterID})
    return updated, nil
}

// Decline records the invitee's rejection and starts the refund.  Unlike
// Approve, expiry does not block a decline: an expired request may still
// be declined for cleanup.  A refund failure is non-fatal — the approval
// transition stands, the deposit stays HELD and a later sweep retries.
func (e *Engine) Decline(ctx context.Context, requestID, actorID uint64) (*model.DateRequest, error) {
    req, err := e.get(ctx, requestID)
    if err != nil {
        return nil, err
    }
    if actorID != req.InviteeID {
        return nil, &AuthorizationError{Op: "decline", ActorID: actorID}
    }
    if req.ApprovalStatus != model.ApprovalPending {
        return nil, alreadyDecided("decline", req.ApprovalStatus)
    }
    updated, err := e.store.Apply(ctx, requestID, model.DeclineUpdate{})
    if err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return nil, e.decisionConflict(ctx, requestID, "decline")
        }
        return nil, err
    }
    if updated.DepositStatus == model.DepositHeld {
        if _, refundErr := e.refundHeld(ctx, updated); refundErr != nil {
            log.Printf("engine: refund after decline failed for request %d: %v", requestID, refundErr)
        }
    }
    e.notify(ctx, req.RequesterID, "request.declined", map[string]any{"request_id": requestID})
    return e.get(ctx, requestID)
}

// ExpireResult reports what a sweep pass did to one request.
type ExpireResult struct {
    RefundAttempted bool
    Refunded        bool
}

// SweepExpire auto-declines a request whose approval window has lapsed and
// attempts the refund.  It is safe to call repeatedly: a request already
// decided returns InvalidStateError and a deposit already finalized is
// never refunded twice.
func (e *Engine) SweepExpire(ctx context.Context, requestID uint64) (ExpireResult, error) {
    var res ExpireResult
    req, err := e.get(ctx, requestID)
    if err != nil {
        return res, err
    }
    if req.ApprovalStatus != model.ApprovalPending {
        return res, alreadyDecided("expire", req.ApprovalStatus)
    }
    if e.now().Before(req.ExpiresAt) {
        return res, &InvalidStateError{Op: "expire", Reason: "request has not expired"}
    }
    updated, err := e.store.Apply(ctx, requestID, model.DeclineUpdate{})
    if err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return res, e.decisionConflict(ctx, requestID, "expire")
        }
        return res, err
    }
    if updated.DepositStatus == model.DepositHeld {
        res.RefundAttempted = true
        refunded, refundErr := e.refundHeld(ctx, updated)
        res.Refunded = refunded
        if refundErr != nil {
            log.Printf("engine: refund after expiry failed for request %d: %v", requestID, refundErr)
        }
    }
    e.notify(ctx, req.RequesterID, "request.expired", map[string]any{"request_id": requestID})
    return res, nil
}

// ProposeDate sets (or replaces) the date details.  Either party may
// propose; every proposal clears both confirmation flags so stale
// confirmations cannot carry over to new terms, even when one party had
// already confirmed the previous proposal.
func (e *Engine) ProposeDate(ctx context.Context, requestID, actorID uint64, dateTime time.Time, location string, details *string) (*model.DateRequest, error) {
    req, err := e.get(ctx, requestID)
    if err != nil {
        return nil, err
    }
    if !req.IsParty(actorID) {
        return nil, &AuthorizationError{Op: "propose date", ActorID: actorID}
    }
    if req.ApprovalStatus != model.ApprovalApproved {
        return nil, &InvalidStateError{Op: "propose date", Reason: "request is not approved"}
    }
    if location == "" {
        return nil, &InvalidStateError{Op: "propose date", Reason: "location is required"}
    }
    updated, err := e.store.Apply(ctx, requestID, model.ProposeUpdate{
        DateTime: dateTime.UTC(),
        Location: location,
        Details:  details,
    })
    if err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return nil, &InvalidStateError{Op: "propose date", Reason: "request is not approved"}
        }
        return nil, err
    }
    e.notify(ctx, otherParty(req, actorID), "date.proposed", map[string]any{
        "request_id": requestID,
        "date_time":  dateTime.UTC().Format(time.RFC3339),
        "location":   location,
    })
    return updated, nil
}

// ConfirmDate sets the acting party's confirmation flag for the current
// proposal.  When the second flag lands, DateConfirmedAt is stamped inside
// the same atomic update.  Re-confirming an already confirmed proposal is
// a no-op.
func (e *Engine) ConfirmDate(ctx context.Context, requestID, actorID uint64) (*model.DateRequest, error) {
    req, err := e.get(ctx, requestID)
    if err != nil {
        return nil, err
    }
    if !req.IsParty(actorID) {
        return nil, &AuthorizationError{Op: "confirm date", ActorID: actorID}
    }
    if req.ApprovalStatus != model.ApprovalApproved {
        return nil, &InvalidStateError{Op: "confirm date", Reason: "request is not approved"}
    }
    if req.ConfirmedDateTime == nil {
        return nil, &InvalidStateError{Op: "confirm date", Reason: "no date proposal to confirm"}
    }
    byInvitee := actorID == req.InviteeID
    if (byInvitee && req.InviteeConfirmed) || (!byInvitee && req.RequesterConfirmed) {
        return req, nil // already confirmed this proposal
    }
    updated, err := e.store.Apply(ctx, requestID, model.ConfirmUpdate{ByInvitee: byInvitee, At: e.now()})
    if err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            // Either a concurrent re-confirm by the same party (no-op) or
            // the proposal/approval changed underneath us.
            cur, getErr := e.store.Get(ctx, requestID)
            if getErr == nil && cur.ConfirmedDateTime != nil &&
                ((byInvitee && cur.InviteeConfirmed) || (!byInvitee && cur.RequesterConfirmed)) {
                return cur, nil
            }
            return nil, &InvalidStateError{Op: "confirm date", Reason: "no date proposal to confirm"}
        }
        return nil, err
    }
    if updated.BothConfirmed() {
        e.notify(ctx, updated.RequesterID, "date.confirmed", map[string]any{"request_id": requestID})
        e.notify(ctx, updated.InviteeID, "date.confirmed", map[string]any{"request_id": requestID})
    }
    return updated, nil
}

// ReleaseDeposit returns the held deposit to the requester after a
// mutually confirmed date.  actorID nil means the caller is the sweeper;
// otherwise the actor must be a party.  The release claims the terminal
// state first, so a manual call racing a sweep results in exactly one
// gateway refund; the loser sees "already released".  A gateway failure
// rolls the claim back and surfaces the error with state unchanged.
func (e *Engine) ReleaseDeposit(ctx context.Context, requestID uint64, actorID *uint64) (payment.RefundResult, error) {
    var zero payment.RefundResult
    req, err := e.get(ctx, requestID)
    if err != nil {
        return zero, err
    }
    if actorID != nil && !req.IsParty(*actorID) {
        return zero, &AuthorizationError{Op: "release deposit", ActorID: *actorID}
    }
    if req.ApprovalStatus != model.ApprovalApproved {
        return zero, &InvalidStateError{Op: "release deposit", Reason: "request is not approved"}
    }
    switch req.DepositStatus {
    case model.DepositRefunded:
        return zero, &InvalidStateError{Op: "release deposit", Reason: "already refunded"}
    case model.DepositReleased:
        return zero, &InvalidStateError{Op: "release deposit", Reason: "already released"}
    case model.DepositPending:
        return zero, &InvalidStateError{Op: "release deposit", Reason: "deposit is not held"}
    }
    if !req.BothConfirmed() {
        return zero, &InvalidStateError{Op: "release deposit", Reason: "both parties must confirm the date before releasing deposit"}
    }
    if req.HoldRef == nil {
        return zero, &PaymentGatewayError{RequestID: requestID, Op: "release", Err: errors.New("missing hold reference")}
    }
    if _, err := e.store.Apply(ctx, requestID, model.MarkReleasedUpdate{}); err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return zero, e.depositConflict(ctx, requestID, "release deposit")
        }
        return zero, err
    }
    result, err := e.gateway.Refund(ctx, *req.HoldRef, 0)
    if err != nil {
        if _, restoreErr := e.store.Apply(ctx, requestID, model.RestoreHeldUpdate{From: model.DepositReleased}); restoreErr != nil {
            log.Printf("engine: restore held after failed release for request %d: %v", requestID, restoreErr)
        }
        return zero, &PaymentGatewayError{RequestID: requestID, Op: "release", Err: err}
    }
    if err := e.payments.SetStatusByRequest(ctx, requestID, model.PaymentRefunded); err != nil {
        log.Printf("engine: update payment status for request %d failed: %v", requestID, err)
    }
    e.notify(ctx, req.RequesterID, "deposit.released", map[string]any{
        "request_id":   requestID,
        "refund_id":    result.RefundID,
        "amount_cents": result.AmountCents,
    })
    return result, nil
}

// refundHeld claims HELD -> REFUNDED and calls the gateway.  A claim lost
// to a concurrent finalizer returns (false, nil); a gateway failure rolls
// the claim back so the deposit stays retryable and returns the wrapped
// error.
func (e *Engine) refundHeld(ctx context.Context, req *model.DateRequest) (bool, error) {
    if req.HoldRef == nil {
        return false, &PaymentGatewayError{RequestID: req.ID, Op: "refund", Err: errors.New("missing hold reference")}
    }
    if _, err := e.store.Apply(ctx, req.ID, model.MarkRefundedUpdate{}); err != nil {
        if errors.Is(err, repository.ErrStateConflict) {
            return false, nil
        }
        return false, err
    }
    if _, err := e.gateway.Refund(ctx, *req.HoldRef, 0); err != nil {
        if _, restoreErr := e.store.Apply(ctx, req.ID, model.RestoreHeldUpdate{From: model.DepositRefunded}); restoreErr != nil {
            log.Printf("engine: restore held after failed refund for request %d: %v", req.ID, restoreErr)
        }
        return false, &PaymentGatewayError{RequestID: req.ID, Op: "refund", Err: err}
    }
    if err := e.payments.SetStatusByRequest(ctx, req.ID, model.PaymentRefunded); err != nil {
        log.Printf("engine: update payment status for request %d failed: %v", req.ID, err)
    }
    return true, nil
}

// get loads a request and converts the repository sentinel into the
// engine's NotFoundError.
func (e *Engine) get(ctx context.Context, requestID uint64) (*model.DateRequest, error) {
    req, err := e.store.Get(ctx, requestID)
    if err != nil {
        if errors.Is(err, repository.ErrRequestNotFound) {
            return nil, &NotFoundError{RequestID: requestID}
        }
        return nil, err
    }
    return req, nil
}

// decisionConflict re-reads the request after a lost approval-status race
// to produce the accurate "already approved"/"already declined" message.
func (e *Engine) decisionConflict(ctx context.Context, requestID uint64, op string) error {
    cur, err := e.store.Get(ctx, requestID)
    if err != nil {
        return &InvalidStateError{Op: op, Reason: "request already decided"}
    }
    return alreadyDecided(op, cur.ApprovalStatus)
}

// depositConflict re-reads the request after a lost deposit race to name
// which terminal state won.
func (e *Engine) depositConflict(ctx context.Context, requestID uint64, op string) error {
    cur, err := e.store.Get(ctx, requestID)
    if err == nil {
        switch cur.DepositStatus {
        case model.DepositRefunded:
            return &InvalidStateError{Op: op, Reason: "already refunded"}
        case model.DepositReleased:
            return &InvalidStateError{Op: op, Reason: "already released"}
        }
    }
    return &InvalidStateError{Op: op, Reason: "deposit already finalized"}
}

func alreadyDecided(op string, status model.ApprovalStatus) error {
    switch status {
    case model.ApprovalApproved:
        return &InvalidStateError{Op: op, Reason: "already approved"}
    case model.ApprovalDeclined:
        return &InvalidStateError{Op: op, Reason: "already declined"}
    }
    return &InvalidStateError{Op: op, Reason: "request already decided"}
}

func otherParty(req *model.DateRequest, actorID uint64) uint64 {
    if actorID == req.RequesterID {
        return req.InviteeID
    }
    return req.RequesterID
}

// notify is fire-and-forget: dispatcher failures are logged and never
// block a lifecycle transition.
func (e *Engine) notify(ctx context.Context, userID uint64, eventType string, payload map[string]any) {
    if err := e.notifier.Notify(ctx, userID, eventType, payload); err != nil {
        log.Printf("engine: notify %s to user %d failed: %v", eventType, userID, err)
    }
}
