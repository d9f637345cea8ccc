package model

import "time"

// PaymentStatus mirrors the processor-side state of the deposit charge.
type PaymentStatus string

const (
    PaymentPending   PaymentStatus = "PENDING"
    PaymentSucceeded PaymentStatus = "SUCCEEDED"
    PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is the local record of the deposit charge placed for a date
// request.  Historically a request could accumulate several rows, but
// logically exactly one is active per request and the repository keys
// writes by request ID.
//
// Fields:
//  ID          – primary key identifier.
//  RequestID   – date request this charge belongs to.
//  PaymentRef  – opaque processor reference (also the hold reference).
//  AmountCents – charged amount in minor currency units.
//  Status      – PENDING, SUCCEEDED or REFUNDED.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Payment struct {
    ID          uint64        // payments.id
    RequestID   uint64        // payments.request_id
    PaymentRef  string        // payments.payment_ref
    AmountCents int64         // payments.amount_cents
    Status      PaymentStatus // payments.status
    CreatedAt   time.Time     // payments.created_at
    UpdatedAt   time.Time     // payments.updated_at
}
