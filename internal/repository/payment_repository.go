package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/datesafe/datesafe-server/internal/model"
)

// PaymentRepo keeps the local mirror of processor-side deposit charges.
// One logical payment is active per request; Record upserts on the
// request_id unique key so a success webhook replayed after the initial
// pending write lands on the same row.
type PaymentRepo struct {
    db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Record inserts or updates the payment row for a request.
func (r *PaymentRepo) Record(ctx context.Context, requestID uint64, paymentRef string, amountCents int64, status model.PaymentStatus) error {
    const q = `INSERT INTO payments (request_id, payment_ref, amount_cents, status)
               VALUES (?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE payment_ref = VALUES(payment_ref),
                   amount_cents = VALUES(amount_cents), status = VALUES(status)`
    _, err := r.db.ExecContext(ctx, q, requestID, paymentRef, amountCents, string(status))
    return err
}

// SetStatusByRequest updates the payment status for a request.
func (r *PaymentRepo) SetStatusByRequest(ctx context.Context, requestID uint64, status model.PaymentStatus) error {
    _, err := r.db.ExecContext(ctx,
        `UPDATE payments SET status = ? WHERE request_id = ?`,
        string(status), requestID)
    return err
}

// GetByRequest loads the payment row for a request.  Returns
// ErrRequestNotFound when no payment has been recorded yet.
func (r *PaymentRepo) GetByRequest(ctx context.Context, requestID uint64) (*model.Payment, error) {
    var (
        p      model.Payment
        status string
    )
    err := r.db.QueryRowContext(ctx,
        `SELECT id, request_id, payment_ref, amount_cents, status, created_at, updated_at
         FROM payments WHERE request_id = ? LIMIT 1`, requestID).
        Scan(&p.ID, &p.RequestID, &p.PaymentRef, &p.AmountCents, &status, &p.CreatedAt, &p.UpdatedAt)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrRequestNotFound
        }
        return nil, err
    }
    p.Status = model.PaymentStatus(status)
    return &p, nil
}
