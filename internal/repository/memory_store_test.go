package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datesafe/datesafe-server/internal/model"
)

func seedRequest(t *testing.T, s *MemoryStore) *model.DateRequest {
	t.Helper()
	req := &model.DateRequest{
		RequesterID:    1,
		InviteeID:      2,
		ApprovalStatus: model.ApprovalPending,
		DepositStatus:  model.DepositPending,
		DepositCents:   5000,
		ExpiresAt:      time.Now().UTC().Add(48 * time.Hour),
	}
	require.NoError(t, s.Create(context.Background(), req))
	return req
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	assert.NotZero(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())

	got, err := s.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	// Get returns a copy; mutating it must not leak into the store.
	got.ApprovalStatus = model.ApprovalApproved
	again, err := s.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, again.ApprovalStatus)

	_, err = s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestMemoryStore_ApprovalGuards(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	ctx := context.Background()

	updated, err := s.Apply(ctx, req.ID, model.ApproveUpdate{})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, updated.ApprovalStatus)

	// Once decided, neither decision applies again.
	_, err = s.Apply(ctx, req.ID, model.ApproveUpdate{})
	assert.ErrorIs(t, err, ErrStateConflict)
	_, err = s.Apply(ctx, req.ID, model.DeclineUpdate{})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestMemoryStore_DepositGuards(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	ctx := context.Background()

	// Refund requires HELD.
	_, err := s.Apply(ctx, req.ID, model.MarkRefundedUpdate{})
	assert.ErrorIs(t, err, ErrStateConflict)

	updated, err := s.Apply(ctx, req.ID, model.MarkHeldUpdate{HoldRef: "hold_1"})
	require.NoError(t, err)
	assert.Equal(t, model.DepositHeld, updated.DepositStatus)
	require.NotNil(t, updated.HoldRef)

	// A second webhook delivery loses the PENDING guard.
	_, err = s.Apply(ctx, req.ID, model.MarkHeldUpdate{HoldRef: "hold_2"})
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = s.Apply(ctx, req.ID, model.MarkRefundedUpdate{})
	require.NoError(t, err)
	// Terminal states are exclusive.
	_, err = s.Apply(ctx, req.ID, model.MarkReleasedUpdate{})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestMemoryStore_ReleaseRequiresConfirmedDate(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	ctx := context.Background()
	_, err := s.Apply(ctx, req.ID, model.MarkHeldUpdate{HoldRef: "hold_1"})
	require.NoError(t, err)
	_, err = s.Apply(ctx, req.ID, model.ApproveUpdate{})
	require.NoError(t, err)

	// No proposal confirmed by both parties yet.
	_, err = s.Apply(ctx, req.ID, model.MarkReleasedUpdate{})
	assert.ErrorIs(t, err, ErrStateConflict)

	when := time.Now().UTC().Add(24 * time.Hour)
	_, err = s.Apply(ctx, req.ID, model.ProposeUpdate{DateTime: when, Location: "Luigi's"})
	require.NoError(t, err)
	_, err = s.Apply(ctx, req.ID, model.ConfirmUpdate{ByInvitee: true, At: time.Now().UTC()})
	require.NoError(t, err)
	_, err = s.Apply(ctx, req.ID, model.ConfirmUpdate{ByInvitee: false, At: time.Now().UTC()})
	require.NoError(t, err)

	updated, err := s.Apply(ctx, req.ID, model.MarkReleasedUpdate{})
	require.NoError(t, err)
	assert.Equal(t, model.DepositReleased, updated.DepositStatus)
}

func TestMemoryStore_RestoreHeld(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	ctx := context.Background()
	_, err := s.Apply(ctx, req.ID, model.MarkHeldUpdate{HoldRef: "hold_1"})
	require.NoError(t, err)
	_, err = s.Apply(ctx, req.ID, model.MarkRefundedUpdate{})
	require.NoError(t, err)

	// Rollback is pinned to the state the claim moved to.
	_, err = s.Apply(ctx, req.ID, model.RestoreHeldUpdate{From: model.DepositReleased})
	assert.ErrorIs(t, err, ErrStateConflict)

	updated, err := s.Apply(ctx, req.ID, model.RestoreHeldUpdate{From: model.DepositRefunded})
	require.NoError(t, err)
	assert.Equal(t, model.DepositHeld, updated.DepositStatus)
}

func TestMemoryStore_ConfirmStampsOnceAndProposeClears(t *testing.T) {
	s := NewMemoryStore()
	req := seedRequest(t, s)
	ctx := context.Background()
	_, err := s.Apply(ctx, req.ID, model.ApproveUpdate{})
	require.NoError(t, err)

	when := time.Now().UTC().Add(24 * time.Hour)
	_, err = s.Apply(ctx, req.ID, model.ProposeUpdate{DateTime: when, Location: "Luigi's"})
	require.NoError(t, err)

	_, err = s.Apply(ctx, req.ID, model.ConfirmUpdate{ByInvitee: true, At: time.Now().UTC()})
	require.NoError(t, err)
	// Same-party re-confirm loses the guard.
	_, err = s.Apply(ctx, req.ID, model.ConfirmUpdate{ByInvitee: true, At: time.Now().UTC()})
	assert.ErrorIs(t, err, ErrStateConflict)

	stampAt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	updated, err := s.Apply(ctx, req.ID, model.ConfirmUpdate{ByInvitee: false, At: stampAt})
	require.NoError(t, err)
	require.NotNil(t, updated.DateConfirmedAt)
	assert.Equal(t, stampAt, *updated.DateConfirmedAt)

	// A new proposal clears the flags but keeps the historical stamp.
	updated, err = s.Apply(ctx, req.ID, model.ProposeUpdate{DateTime: when.Add(time.Hour), Location: "the pier"})
	require.NoError(t, err)
	assert.False(t, updated.InviteeConfirmed)
	assert.False(t, updated.RequesterConfirmed)
	require.NotNil(t, updated.ConfirmedLocation)
	assert.Equal(t, "the pier", *updated.ConfirmedLocation)
}

func TestMemoryStore_ExpiredPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	old := &model.DateRequest{RequesterID: 1, InviteeID: 2, ApprovalStatus: model.ApprovalPending, DepositStatus: model.DepositHeld, ExpiresAt: now.Add(-2 * time.Hour)}
	older := &model.DateRequest{RequesterID: 3, InviteeID: 4, ApprovalStatus: model.ApprovalPending, DepositStatus: model.DepositHeld, ExpiresAt: now.Add(-4 * time.Hour)}
	fresh := &model.DateRequest{RequesterID: 5, InviteeID: 6, ApprovalStatus: model.ApprovalPending, DepositStatus: model.DepositHeld, ExpiresAt: now.Add(2 * time.Hour)}
	for _, r := range []*model.DateRequest{old, older, fresh} {
		require.NoError(t, s.Create(ctx, r))
	}
	_, err := s.Apply(ctx, old.ID, model.DeclineUpdate{})
	require.NoError(t, err)

	expired, err := s.ExpiredPending(ctx, now)
	require.NoError(t, err)
	// Only `older` is both pending and past expiry, decided requests drop out.
	require.Len(t, expired, 1)
	assert.Equal(t, older.ID, expired[0].ID)
}

func TestMemoryStore_ListByParty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedRequest(t, s) // 1 -> 2
	b := &model.DateRequest{RequesterID: 2, InviteeID: 3, ApprovalStatus: model.ApprovalPending, DepositStatus: model.DepositPending, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, s.Create(ctx, b))

	mine, err := s.ListByParty(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	// Newest first.
	assert.Equal(t, b.ID, mine[0].ID)
	assert.Equal(t, a.ID, mine[1].ID)

	none, err := s.ListByParty(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryPaymentLog(t *testing.T) {
	l := NewMemoryPaymentLog()
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, 1, "hold_1", 5000, model.PaymentPending))
	require.NoError(t, l.Record(ctx, 1, "hold_1", 5000, model.PaymentSucceeded))

	p, err := l.GetByRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, p.Status)

	require.NoError(t, l.SetStatusByRequest(ctx, 1, model.PaymentRefunded))
	p, err = l.GetByRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)

	_, err = l.GetByRequest(ctx, 42)
	assert.Error(t, err)
}
