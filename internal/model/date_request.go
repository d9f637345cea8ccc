package model

import "time"

// ApprovalStatus tracks the invitee's decision on a date request.  The
// value is monotonic: once APPROVED or DECLINED it never returns to
// PENDING, and the two terminal values are mutually exclusive.
type ApprovalStatus string

const (
    ApprovalPending  ApprovalStatus = "PENDING"
    ApprovalApproved ApprovalStatus = "APPROVED"
    ApprovalDeclined ApprovalStatus = "DECLINED"
)

// DepositStatus tracks where the requester's deposit sits.  PENDING means
// the hold has been requested but the processor has not yet confirmed the
// charge; HELD means funds are captured and awaiting disposition; REFUNDED
// and RELEASED are terminal and may each be reached exactly once.
type DepositStatus string

const (
    DepositPending  DepositStatus = "PENDING"
    DepositHeld     DepositStatus = "HELD"
    DepositRefunded DepositStatus = "REFUNDED"
    DepositReleased DepositStatus = "RELEASED"
)

// DateRequest records one requester's paid request for a date with an
// invitee, together with the approval decision, the deposit lifecycle and
// the mutually confirmed date details.  All timestamps are stored in UTC.
//
// Fields:
//  ID                 – primary key identifier.
//  RequesterID        – user who sent the request and paid the deposit.
//  InviteeID          – user who screens the request; must differ from RequesterID.
//  ApprovalStatus     – PENDING, APPROVED or DECLINED.
//  DepositStatus      – PENDING, HELD, REFUNDED or RELEASED.
//  DepositCents       – deposit amount in minor currency units; always positive.
//  IntroMessage       – message the requester attached to the request.
//  SlotID             – optional availability slot chosen by the requester.
//  ScreeningAnswers   – optional JSON-encoded answers to the invitee's screening questions.
//  HoldRef            – payment processor reference for the held funds.
//  ExpiresAt          – requests still PENDING at this time become sweepable.
//  ConfirmedDateTime  – proposed/agreed date time; nil until a proposal is made.
//  ConfirmedLocation  – proposed/agreed meeting place.
//  ConfirmedDetails   – optional free-form details for the proposal.
//  InviteeConfirmed   – invitee has confirmed the current proposal.
//  RequesterConfirmed – requester has confirmed the current proposal.
//  DateConfirmedAt    – stamped the instant both confirmation flags become
//                       true for the same proposal; never unset afterwards.
//  CreatedAt          – creation timestamp.
//  UpdatedAt          – last update timestamp.
type DateRequest struct {
    ID                 uint64         // date_requests.id
    RequesterID        uint64         // date_requests.requester_id
    InviteeID          uint64         // date_requests.invitee_id
    ApprovalStatus     ApprovalStatus // date_requests.approval_status
    DepositStatus      DepositStatus  // date_requests.deposit_status
    DepositCents       int64          // date_requests.deposit_cents
    IntroMessage       string         // date_requests.intro_message
    SlotID             *uint64        // date_requests.slot_id (nullable)
    ScreeningAnswers   *string        // date_requests.screening_answers (nullable JSON)
    HoldRef            *string        // date_requests.hold_ref (nullable)
    ExpiresAt          time.Time      // date_requests.expires_at
    ConfirmedDateTime  *time.Time     // date_requests.confirmed_date_time (nullable)
    ConfirmedLocation  *string        // date_requests.confirmed_location (nullable)
    ConfirmedDetails   *string        // date_requests.confirmed_details (nullable)
    InviteeConfirmed   bool           // date_requests.invitee_confirmed
    RequesterConfirmed bool           // date_requests.requester_confirmed
    DateConfirmedAt    *time.Time     // date_requests.date_confirmed_at (nullable)
    CreatedAt          time.Time      // date_requests.created_at
    UpdatedAt          time.Time      // date_requests.updated_at
}

// IsParty reports whether the given user is one of the two parties on the
// request.
func (r *DateRequest) IsParty(userID uint64) bool {
    return userID == r.RequesterID || userID == r.InviteeID
}

// BothConfirmed reports whether both parties have confirmed the current
// date proposal.
func (r *DateRequest) BothConfirmed() bool {
    return r.InviteeConfirmed && r.RequesterConfirmed
}
