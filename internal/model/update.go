package model

import "time"

// RequestUpdate is the closed set of state transitions that may be applied
// to a DateRequest.  Each variant carries its own guard; a store applies
// the guard check and the write as a single atomic step and reports a
// guard miss as a state conflict.  Using one struct per transition keeps
// every mutation path explicit instead of funnelling through a generic
// partial-field patch.
type RequestUpdate interface {
    isRequestUpdate()
}

// ApproveUpdate moves ApprovalStatus PENDING -> APPROVED.
// Guard: approval_status = PENDING.
type ApproveUpdate struct{}

// DeclineUpdate moves ApprovalStatus PENDING -> DECLINED.  Expiry is
// deliberately not part of the guard: declining an expired request is
// allowed for cleanup.
// Guard: approval_status = PENDING.
type DeclineUpdate struct{}

// ProposeUpdate sets the date proposal fields and unconditionally clears
// both confirmation flags so stale confirmations never apply to new terms.
// Guard: approval_status = APPROVED.
type ProposeUpdate struct {
    DateTime time.Time
    Location string
    Details  *string
}

// ConfirmUpdate sets one party's confirmation flag.  When the other flag
// is already set and DateConfirmedAt is still unset, the store stamps
// DateConfirmedAt in the same atomic write.
// Guard: approval_status = APPROVED and a proposal exists.
type ConfirmUpdate struct {
    ByInvitee bool
    At        time.Time
}

// MarkHeldUpdate records the processor's "payment succeeded" event and
// moves DepositStatus PENDING -> HELD.
// Guard: deposit_status = PENDING.
type MarkHeldUpdate struct {
    HoldRef string
}

// MarkRefundedUpdate claims the refund path: DepositStatus HELD -> REFUNDED.
// Guard: deposit_status = HELD.  At most one concurrent caller wins.
type MarkRefundedUpdate struct{}

// MarkReleasedUpdate claims the release path: DepositStatus HELD -> RELEASED.
// Guard: deposit_status = HELD, approval_status = APPROVED and both
// confirmation flags set.  At most one concurrent caller wins.
type MarkReleasedUpdate struct{}

// RestoreHeldUpdate rolls a claimed terminal deposit state back to HELD
// after the payment gateway rejected the operation, so a later retry can
// claim it again.
// Guard: deposit_status = From.
type RestoreHeldUpdate struct {
    From DepositStatus
}

func (ApproveUpdate) isRequestUpdate()      {}
func (DeclineUpdate) isRequestUpdate()      {}
func (ProposeUpdate) isRequestUpdate()      {}
func (ConfirmUpdate) isRequestUpdate()      {}
func (MarkHeldUpdate) isRequestUpdate()     {}
func (MarkRefundedUpdate) isRequestUpdate() {}
func (MarkReleasedUpdate) isRequestUpdate() {}
func (RestoreHeldUpdate) isRequestUpdate()  {}
