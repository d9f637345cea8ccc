package repository

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/datesafe/datesafe-server/internal/model"
)

// MemoryStore is an in-memory request store with the same guarded-update
// semantics as DateRequestRepo.  A single mutex spans every guard check
// and write, so two racing Apply calls can never both observe a guard as
// satisfied.  It backs the engine test suite and works as a dev backend.
type MemoryStore struct {
    mu     sync.Mutex
    nextID uint64
    reqs   map[uint64]*model.DateRequest
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
    return &MemoryStore{nextID: 1, reqs: make(map[uint64]*model.DateRequest)}
}

// Create assigns an ID and timestamps and stores a copy of the record.
func (s *MemoryStore) Create(_ context.Context, req *model.DateRequest) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := time.Now().UTC()
    req.ID = s.nextID
    s.nextID++
    req.CreatedAt = now
    req.UpdatedAt = now
    cp := *req
    s.reqs[req.ID] = &cp
    return nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(_ context.Context, id uint64) (*model.DateRequest, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    req, ok := s.reqs[id]
    if !ok {
        return nil, ErrRequestNotFound
    }
    cp := *req
    return &cp, nil
}

// Apply evaluates the update's guard and performs the write under one
// mutex hold, mirroring the conditional UPDATE of the SQL implementation.
func (s *MemoryStore) Apply(_ context.Context, id uint64, update model.RequestUpdate) (*model.DateRequest, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    req, ok := s.reqs[id]
    if !ok {
        return nil, ErrRequestNotFound
    }
    if err := applyInPlace(req, update); err != nil {
        return nil, err
    }
    req.UpdatedAt = time.Now().UTC()
    cp := *req
    return &cp, nil
}

func applyInPlace(req *model.DateRequest, update model.RequestUpdate) error {
    switch u := update.(type) {
    case model.ApproveUpdate:
        if req.ApprovalStatus != model.ApprovalPending {
            return ErrStateConflict
        }
        req.ApprovalStatus = model.ApprovalApproved
    case model.DeclineUpdate:
        if req.ApprovalStatus != model.ApprovalPending {
            return ErrStateConflict
        }
        req.ApprovalStatus = model.ApprovalDeclined
    case model.ProposeUpdate:
        if req.ApprovalStatus != model.ApprovalApproved {
            return ErrStateConflict
        }
        dt := u.DateTime.UTC()
        req.ConfirmedDateTime = &dt
        loc := u.Location
        req.ConfirmedLocation = &loc
        req.ConfirmedDetails = u.Details
        req.InviteeConfirmed = false
        req.RequesterConfirmed = false
    case model.ConfirmUpdate:
        if req.ApprovalStatus != model.ApprovalApproved || req.ConfirmedDateTime == nil {
            return ErrStateConflict
        }
        if u.ByInvitee {
            if req.InviteeConfirmed {
                return ErrStateConflict
            }
            req.InviteeConfirmed = true
        } else {
            if req.RequesterConfirmed {
                return ErrStateConflict
            }
            req.RequesterConfirmed = true
        }
        if req.InviteeConfirmed && req.RequesterConfirmed && req.DateConfirmedAt == nil {
            at := u.At.UTC()
            req.DateConfirmedAt = &at
        }
    case model.MarkHeldUpdate:
        if req.DepositStatus != model.DepositPending {
            return ErrStateConflict
        }
        req.DepositStatus = model.DepositHeld
        ref := u.HoldRef
        req.HoldRef = &ref
    case model.MarkRefundedUpdate:
        if req.DepositStatus != model.DepositHeld {
            return ErrStateConflict
        }
        req.DepositStatus = model.DepositRefunded
    case model.MarkReleasedUpdate:
        if req.DepositStatus != model.DepositHeld || req.ApprovalStatus != model.ApprovalApproved ||
            !req.InviteeConfirmed || !req.RequesterConfirmed {
            return ErrStateConflict
        }
        req.DepositStatus = model.DepositReleased
    case model.RestoreHeldUpdate:
        if req.DepositStatus != u.From {
            return ErrStateConflict
        }
        req.DepositStatus = model.DepositHeld
    default:
        return ErrStateConflict
    }
    return nil
}

// ExpiredPending returns requests still PENDING whose expiry has passed,
// oldest expiry first.
func (s *MemoryStore) ExpiredPending(_ context.Context, now time.Time) ([]*model.DateRequest, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]*model.DateRequest, 0)
    for _, req := range s.reqs {
        if req.ApprovalStatus == model.ApprovalPending && req.ExpiresAt.Before(now) {
            cp := *req
            out = append(out, &cp)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
    return out, nil
}

// ConfirmedHeld returns approved, mutually confirmed requests with a HELD
// deposit.
func (s *MemoryStore) ConfirmedHeld(_ context.Context) ([]*model.DateRequest, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]*model.DateRequest, 0)
    for _, req := range s.reqs {
        if req.ApprovalStatus == model.ApprovalApproved && req.DepositStatus == model.DepositHeld &&
            req.InviteeConfirmed && req.RequesterConfirmed {
            cp := *req
            out = append(out, &cp)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

// ListByParty returns requests the user sent or received, newest first.
func (s *MemoryStore) ListByParty(_ context.Context, userID uint64) ([]*model.DateRequest, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]*model.DateRequest, 0)
    for _, req := range s.reqs {
        if req.RequesterID == userID || req.InviteeID == userID {
            cp := *req
            out = append(out, &cp)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
    return out, nil
}

// MemoryPaymentLog is the in-memory counterpart of PaymentRepo.
type MemoryPaymentLog struct {
    mu       sync.Mutex
    payments map[uint64]*model.Payment
}

// NewMemoryPaymentLog returns an empty MemoryPaymentLog.
func NewMemoryPaymentLog() *MemoryPaymentLog {
    return &MemoryPaymentLog{payments: make(map[uint64]*model.Payment)}
}

// Record inserts or replaces the payment row for a request.
func (l *MemoryPaymentLog) Record(_ context.Context, requestID uint64, paymentRef string, amountCents int64, status model.PaymentStatus) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    now := time.Now().UTC()
    if p, ok := l.payments[requestID]; ok {
        p.PaymentRef = paymentRef
        p.AmountCents = amountCents
        p.Status = status
        p.UpdatedAt = now
        return nil
    }
    l.payments[requestID] = &model.Payment{
        ID:          uint64(len(l.payments) + 1),
        RequestID:   requestID,
        PaymentRef:  paymentRef,
        AmountCents: amountCents,
        Status:      status,
        CreatedAt:   now,
        UpdatedAt:   now,
    }
    return nil
}

// SetStatusByRequest updates the payment status for a request.
func (l *MemoryPaymentLog) SetStatusByRequest(_ context.Context, requestID uint64, status model.PaymentStatus) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if p, ok := l.payments[requestID]; ok {
        p.Status = status
        p.UpdatedAt = time.Now().UTC()
    }
    return nil
}

// GetByRequest loads the payment row for a request.
func (l *MemoryPaymentLog) GetByRequest(_ context.Context, requestID uint64) (*model.Payment, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    p, ok := l.payments[requestID]
    if !ok {
        return nil, ErrRequestNotFound
    }
    cp := *p
    return &cp, nil
}
