package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/datesafe/datesafe-server/internal/model"
)

// DateRequestRepo provides persistence for date requests.  All timestamp
// columns are stored in UTC.  Every state transition goes through Apply,
// which executes a single conditional UPDATE so the guard check and the
// write cannot be separated by a concurrent writer.
type DateRequestRepo struct {
    db *sql.DB
}

// NewDateRequestRepo returns a DateRequestRepo bound to the given database.
func NewDateRequestRepo(db *sql.DB) *DateRequestRepo { return &DateRequestRepo{db: db} }

// DB exposes the underlying handle for callers that need to open their own
// transactions.
func (r *DateRequestRepo) DB() *sql.DB { return r.db }

const requestColumns = `id, requester_id, invitee_id, approval_status, deposit_status,
    deposit_cents, intro_message, slot_id, screening_answers, hold_ref, expires_at,
    confirmed_date_time, confirmed_location, confirmed_details,
    invitee_confirmed, requester_confirmed, date_confirmed_at, created_at, updated_at`

// Create inserts a new request and populates the generated ID and DB
// timestamps on the provided record.
func (r *DateRequestRepo) Create(ctx context.Context, req *model.DateRequest) error {
    const q = `INSERT INTO date_requests
        (requester_id, invitee_id, approval_status, deposit_status, deposit_cents,
         intro_message, slot_id, screening_answers, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
    result, err := r.db.ExecContext(ctx, q,
        req.RequesterID, req.InviteeID, string(req.ApprovalStatus), string(req.DepositStatus),
        req.DepositCents, req.IntroMessage, req.SlotID, req.ScreeningAnswers,
        req.ExpiresAt.UTC(),
    )
    if err != nil {
        return err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    // Query back the full row to populate timestamps and defaults.
    created, err := r.Get(ctx, uint64(id))
    if err != nil {
        return err
    }
    *req = *created
    return nil
}

// Get loads a single request by ID.  Returns ErrRequestNotFound when the
// ID does not resolve.
func (r *DateRequestRepo) Get(ctx context.Context, id uint64) (*model.DateRequest, error) {
    row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM date_requests WHERE id = ?`, id)
    req, err := scanRequest(row)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrRequestNotFound
        }
        return nil, err
    }
    return req, nil
}

// Apply executes the given transition as one conditional UPDATE.  When the
// statement matches no row, Apply distinguishes a missing request from a
// failed guard by re-reading the row, and returns ErrRequestNotFound or
// ErrStateConflict accordingly.  On success the fresh row is returned.
func (r *DateRequestRepo) Apply(ctx context.Context, id uint64, update model.RequestUpdate) (*model.DateRequest, error) {
    query, args, err := updateStatement(id, update)
    if err != nil {
        return nil, err
    }
    result, err := r.db.ExecContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    affected, err := result.RowsAffected()
    if err != nil {
        return nil, err
    }
    if affected == 0 {
        if _, getErr := r.Get(ctx, id); getErr != nil {
            return nil, getErr
        }
        return nil, ErrStateConflict
    }
    return r.Get(ctx, id)
}

// updateStatement builds the guarded UPDATE for one transition.  Guards
// live in the WHERE clause so the row either transitions atomically or the
// statement affects nothing.
func updateStatement(id uint64, update model.RequestUpdate) (string, []interface{}, error) {
    switch u := update.(type) {
    case model.ApproveUpdate:
        return `UPDATE date_requests SET approval_status = 'APPROVED'
                WHERE id = ? AND approval_status = 'PENDING'`,
            []interface{}{id}, nil
    case model.DeclineUpdate:
        return `UPDATE date_requests SET approval_status = 'DECLINED'
                WHERE id = ? AND approval_status = 'PENDING'`,
            []interface{}{id}, nil
    case model.ProposeUpdate:
        return `UPDATE date_requests SET confirmed_date_time = ?, confirmed_location = ?,
                confirmed_details = ?, invitee_confirmed = 0, requester_confirmed = 0
                WHERE id = ? AND approval_status = 'APPROVED'`,
            []interface{}{u.DateTime.UTC(), u.Location, u.Details, id}, nil
    case model.ConfirmUpdate:
        // date_confirmed_at is stamped in the same statement when the other
        // party had already confirmed, so both-confirmed and the stamp are
        // one atomic write.
        if u.ByInvitee {
            return `UPDATE date_requests SET invitee_confirmed = 1,
                    date_confirmed_at = IF(requester_confirmed = 1 AND date_confirmed_at IS NULL, ?, date_confirmed_at)
                    WHERE id = ? AND approval_status = 'APPROVED'
                      AND confirmed_date_time IS NOT NULL AND invitee_confirmed = 0`,
                []interface{}{u.At.UTC(), id}, nil
        }
        return `UPDATE date_requests SET requester_confirmed = 1,
                date_confirmed_at = IF(invitee_confirmed = 1 AND date_confirmed_at IS NULL, ?, date_confirmed_at)
                WHERE id = ? AND approval_status = 'APPROVED'
                  AND confirmed_date_time IS NOT NULL AND requester_confirmed = 0`,
            []interface{}{u.At.UTC(), id}, nil
    case model.MarkHeldUpdate:
        return `UPDATE date_requests SET deposit_status = 'HELD', hold_ref = ?
                WHERE id = ? AND deposit_status = 'PENDING'`,
            []interface{}{u.HoldRef, id}, nil
    case model.MarkRefundedUpdate:
        return `UPDATE date_requests SET deposit_status = 'REFUNDED'
                WHERE id = ? AND deposit_status = 'HELD'`,
            []interface{}{id}, nil
    case model.MarkReleasedUpdate:
        return `UPDATE date_requests SET deposit_status = 'RELEASED'
                WHERE id = ? AND deposit_status = 'HELD' AND approval_status = 'APPROVED'
                  AND invitee_confirmed = 1 AND requester_confirmed = 1`,
            []interface{}{id}, nil
    case model.RestoreHeldUpdate:
        return `UPDATE date_requests SET deposit_status = 'HELD'
                WHERE id = ? AND deposit_status = ?`,
            []interface{}{id, string(u.From)}, nil
    }
    return "", nil, fmt.Errorf("unsupported request update %T", update)
}

// ExpiredPending returns every request still awaiting a decision whose
// expiry has passed, oldest first.
func (r *DateRequestRepo) ExpiredPending(ctx context.Context, now time.Time) ([]*model.DateRequest, error) {
    const q = `SELECT ` + requestColumns + ` FROM date_requests
               WHERE approval_status = 'PENDING' AND expires_at < ?
               ORDER BY expires_at`
    return r.queryRequests(ctx, q, now.UTC())
}

// ConfirmedHeld returns approved, mutually confirmed requests whose
// deposit is still HELD.
func (r *DateRequestRepo) ConfirmedHeld(ctx context.Context) ([]*model.DateRequest, error) {
    const q = `SELECT ` + requestColumns + ` FROM date_requests
               WHERE approval_status = 'APPROVED' AND deposit_status = 'HELD'
                 AND invitee_confirmed = 1 AND requester_confirmed = 1
               ORDER BY date_confirmed_at`
    return r.queryRequests(ctx, q)
}

// ListByParty returns every request the user sent or received, newest
// first.
func (r *DateRequestRepo) ListByParty(ctx context.Context, userID uint64) ([]*model.DateRequest, error) {
    const q = `SELECT ` + requestColumns + ` FROM date_requests
               WHERE requester_id = ? OR invitee_id = ?
               ORDER BY created_at DESC`
    return r.queryRequests(ctx, q, userID, userID)
}

func (r *DateRequestRepo) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*model.DateRequest, error) {
    rows, err := r.db.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]*model.DateRequest, 0)
    for rows.Next() {
        req, err := scanRequest(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, req)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}

// rowScanner lets scanRequest work with both *sql.Row and *sql.Rows.
type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*model.DateRequest, error) {
    var (
        req              model.DateRequest
        approval         string
        deposit          string
        slotID           sql.NullInt64
        screeningAnswers sql.NullString
        holdRef          sql.NullString
        confirmedAt      sql.NullTime
        location         sql.NullString
        details          sql.NullString
        dateConfirmedAt  sql.NullTime
    )
    err := row.Scan(
        &req.ID, &req.RequesterID, &req.InviteeID, &approval, &deposit,
        &req.DepositCents, &req.IntroMessage, &slotID, &screeningAnswers, &holdRef,
        &req.ExpiresAt, &confirmedAt, &location, &details,
        &req.InviteeConfirmed, &req.RequesterConfirmed, &dateConfirmedAt,
        &req.CreatedAt, &req.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    req.ApprovalStatus = model.ApprovalStatus(approval)
    req.DepositStatus = model.DepositStatus(deposit)
    if slotID.Valid {
        v := uint64(slotID.Int64)
        req.SlotID = &v
    }
    if screeningAnswers.Valid {
        v := screeningAnswers.String
        req.ScreeningAnswers = &v
    }
    if holdRef.Valid {
        v := holdRef.String
        req.HoldRef = &v
    }
    if confirmedAt.Valid {
        v := confirmedAt.Time.UTC()
        req.ConfirmedDateTime = &v
    }
    if location.Valid {
        v := location.String
        req.ConfirmedLocation = &v
    }
    if details.Valid {
        v := details.String
        req.ConfirmedDetails = &v
    }
    if dateConfirmedAt.Valid {
        v := dateConfirmedAt.Time.UTC()
        req.DateConfirmedAt = &v
    }
    return &req, nil
}
