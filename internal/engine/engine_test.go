package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datesafe/datesafe-server/internal/model"
	"github.com/datesafe/datesafe-server/internal/payment"
	"github.com/datesafe/datesafe-server/internal/repository"
)

const (
	requester uint64 = 10
	invitee   uint64 = 20
	outsider  uint64 = 30
)

// fakeGateway counts processor calls and can be told to fail refunds.
type fakeGateway struct {
	mu         sync.Mutex
	holds      int
	refunds    int
	refundErr  error
	lastRefund string
}

func (g *fakeGateway) CreateHold(_ context.Context, _ int64, _ string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holds++
	return fmt.Sprintf("hold_%d", g.holds), nil
}

func (g *fakeGateway) Refund(_ context.Context, holdRef string, amountCents int64) (payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return payment.RefundResult{}, g.refundErr
	}
	g.refunds++
	g.lastRefund = holdRef
	return payment.RefundResult{RefundID: fmt.Sprintf("re_%d", g.refunds), AmountCents: amountCents, Status: "succeeded"}, nil
}

func (g *fakeGateway) HoldStatus(_ context.Context, _ string) (string, error) {
	return "held", nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds
}

// recordingNotifier captures dispatched event types per user.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID uint64, eventType string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%d:%s", userID, eventType))
	return nil
}

func (n *recordingNotifier) has(userID uint64, eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	want := fmt.Sprintf("%d:%s", userID, eventType)
	for _, e := range n.events {
		if e == want {
			return true
		}
	}
	return false
}

// fakeClock lets tests move time past the approval window.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	eng      *Engine
	store    *repository.MemoryStore
	payments *repository.MemoryPaymentLog
	gateway  *fakeGateway
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		payments: repository.NewMemoryPaymentLog(),
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.eng = New(f.store, f.payments, f.gateway, f.notifier, Options{
		RequestTTL: 48 * time.Hour,
		Now:        f.clock.Now,
	})
	return f
}

func (f *fixture) create(t *testing.T) *model.DateRequest {
	t.Helper()
	req, err := f.eng.CreateRequest(context.Background(), CreateRequestInput{
		RequesterID:  requester,
		InviteeID:    invitee,
		DepositCents: 5000,
		IntroMessage: "coffee at the marina?",
	})
	require.NoError(t, err)
	return req
}

// createHeld creates a request and delivers the processor success webhook.
func (f *fixture) createHeld(t *testing.T) *model.DateRequest {
	t.Helper()
	req := f.create(t)
	held, err := f.eng.MarkDepositHeld(context.Background(), req.ID, "hold_1", 5000)
	require.NoError(t, err)
	return held
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)

	assert.Equal(t, model.ApprovalPending, req.ApprovalStatus)
	assert.Equal(t, model.DepositPending, req.DepositStatus)
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), req.ExpiresAt)
	assert.Equal(t, 1, f.gateway.holds)
	assert.True(t, f.notifier.has(invitee, "request.received"))

	p, err := f.payments.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)
}

func TestCreateRequest_Rejections(t *testing.T) {
	f := newFixture(t)
	var invalid *InvalidStateError

	_, err := f.eng.CreateRequest(context.Background(), CreateRequestInput{RequesterID: requester, InviteeID: requester, DepositCents: 5000})
	require.ErrorAs(t, err, &invalid)

	_, err = f.eng.CreateRequest(context.Background(), CreateRequestInput{RequesterID: requester, InviteeID: invitee, DepositCents: 0})
	require.ErrorAs(t, err, &invalid)
}

func TestMarkDepositHeld(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)

	held, err := f.eng.MarkDepositHeld(context.Background(), req.ID, "hold_1", 5000)
	require.NoError(t, err)
	assert.Equal(t, model.DepositHeld, held.DepositStatus)
	require.NotNil(t, held.HoldRef)
	assert.Equal(t, "hold_1", *held.HoldRef)

	p, err := f.payments.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
}

func TestMarkDepositHeld_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)

	again, err := f.eng.MarkDepositHeld(context.Background(), req.ID, "hold_1", 5000)
	require.NoError(t, err)
	assert.Equal(t, model.DepositHeld, again.DepositStatus)
}

func TestMarkDepositHeld_AfterRefundRejected(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	_, err := f.eng.Decline(context.Background(), req.ID, invitee)
	require.NoError(t, err)

	var invalid *InvalidStateError
	_, err = f.eng.MarkDepositHeld(context.Background(), req.ID, "hold_other", 5000)
	require.ErrorAs(t, err, &invalid)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)

	approved, err := f.eng.Approve(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, approved.ApprovalStatus)
	// Approval does not touch the deposit.
	assert.Equal(t, model.DepositHeld, approved.DepositStatus)
	assert.True(t, f.notifier.has(requester, "request.approved"))
	assert.True(t, f.notifier.has(requester, "chat.opened"))
	assert.True(t, f.notifier.has(invitee, "chat.opened"))
}

func TestApprove_OnlyInvitee(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)

	var authErr *AuthorizationError
	_, err := f.eng.Approve(context.Background(), req.ID, requester)
	require.ErrorAs(t, err, &authErr)
	_, err = f.eng.Approve(context.Background(), req.ID, outsider)
	require.ErrorAs(t, err, &authErr)
}

func TestApprove_AfterExpiryRejected(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.clock.Advance(48*time.Hour + time.Minute)

	var expired *ExpiredError
	_, err := f.eng.Approve(context.Background(), req.ID, invitee)
	require.ErrorAs(t, err, &expired)

	// The request itself is untouched; only the sweep finalizes it.
	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, cur.ApprovalStatus)
}

func TestApprove_AlreadyDecided(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	_, err := f.eng.Approve(context.Background(), req.ID, invitee)
	require.NoError(t, err)

	var invalid *InvalidStateError
	_, err = f.eng.Approve(context.Background(), req.ID, invitee)
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Error(), "already approved")

	_, err = f.eng.Decline(context.Background(), req.ID, invitee)
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Error(), "already approved")
}

func TestDecline_RefundsHeldDeposit(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)

	declined, err := f.eng.Decline(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalDeclined, declined.ApprovalStatus)
	assert.Equal(t, model.DepositRefunded, declined.DepositStatus)
	assert.Equal(t, 1, f.gateway.refundCount())
	assert.True(t, f.notifier.has(requester, "request.declined"))

	p, err := f.payments.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)
}

func TestDecline_AllowedAfterExpiry(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.clock.Advance(72 * time.Hour)

	declined, err := f.eng.Decline(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalDeclined, declined.ApprovalStatus)
	assert.Equal(t, model.DepositRefunded, declined.DepositStatus)
}

func TestDecline_RefundFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.gateway.refundErr = errors.New("processor down")

	declined, err := f.eng.Decline(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	// The decline stands but the deposit stays HELD for a retry.
	assert.Equal(t, model.ApprovalDeclined, declined.ApprovalStatus)
	assert.Equal(t, model.DepositHeld, declined.DepositStatus)
	assert.Equal(t, 0, f.gateway.refundCount())
}

func TestSweepExpire(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.clock.Advance(48*time.Hour + time.Minute)

	res, err := f.eng.SweepExpire(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, res.RefundAttempted)
	assert.True(t, res.Refunded)

	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalDeclined, cur.ApprovalStatus)
	assert.Equal(t, model.DepositRefunded, cur.DepositStatus)
	assert.True(t, f.notifier.has(requester, "request.expired"))
}

func TestSweepExpire_NotYetExpired(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)

	var invalid *InvalidStateError
	_, err := f.eng.SweepExpire(context.Background(), req.ID)
	require.ErrorAs(t, err, &invalid)
}

func TestSweepExpire_Idempotent(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.clock.Advance(49 * time.Hour)

	_, err := f.eng.SweepExpire(context.Background(), req.ID)
	require.NoError(t, err)

	var invalid *InvalidStateError
	_, err = f.eng.SweepExpire(context.Background(), req.ID)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, f.gateway.refundCount())
}

// SweepExpire on a request whose hold never succeeded declines without
// attempting a refund.
func TestSweepExpire_PendingDepositNoRefund(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.clock.Advance(49 * time.Hour)

	res, err := f.eng.SweepExpire(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, res.RefundAttempted)
	assert.Equal(t, 0, f.gateway.refundCount())
}

func approvedFixture(t *testing.T) (*fixture, *model.DateRequest) {
	t.Helper()
	f := newFixture(t)
	req := f.createHeld(t)
	_, err := f.eng.Approve(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	return f, req
}

func TestProposeDate(t *testing.T) {
	f, req := approvedFixture(t)
	when := f.clock.Now().Add(7 * 24 * time.Hour)

	updated, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.NoError(t, err)
	require.NotNil(t, updated.ConfirmedDateTime)
	assert.Equal(t, when, *updated.ConfirmedDateTime)
	require.NotNil(t, updated.ConfirmedLocation)
	assert.Equal(t, "Luigi's", *updated.ConfirmedLocation)
	assert.False(t, updated.InviteeConfirmed)
	assert.False(t, updated.RequesterConfirmed)
	assert.True(t, f.notifier.has(invitee, "date.proposed"))
}

func TestProposeDate_ClearsPriorConfirmations(t *testing.T) {
	f, req := approvedFixture(t)
	when := f.clock.Now().Add(7 * 24 * time.Hour)
	_, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.NoError(t, err)
	_, err = f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.NoError(t, err)

	// A counter-proposal wipes the invitee's confirmation of the old terms.
	updated, err := f.eng.ProposeDate(context.Background(), req.ID, invitee, when.Add(24*time.Hour), "the pier", nil)
	require.NoError(t, err)
	assert.False(t, updated.InviteeConfirmed)
	assert.False(t, updated.RequesterConfirmed)
	assert.Nil(t, updated.DateConfirmedAt)
}

func TestProposeDate_Rejections(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	when := f.clock.Now().Add(24 * time.Hour)

	var invalid *InvalidStateError
	_, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.ErrorAs(t, err, &invalid) // not approved yet

	var authErr *AuthorizationError
	_, err = f.eng.ProposeDate(context.Background(), req.ID, outsider, when, "Luigi's", nil)
	require.ErrorAs(t, err, &authErr)

	_, err = f.eng.Approve(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	_, err = f.eng.ProposeDate(context.Background(), req.ID, requester, when, "", nil)
	require.ErrorAs(t, err, &invalid) // location required
}

func TestConfirmDate(t *testing.T) {
	f, req := approvedFixture(t)
	when := f.clock.Now().Add(7 * 24 * time.Hour)
	_, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.NoError(t, err)

	first, err := f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	assert.True(t, first.InviteeConfirmed)
	assert.False(t, first.RequesterConfirmed)
	assert.Nil(t, first.DateConfirmedAt)

	second, err := f.eng.ConfirmDate(context.Background(), req.ID, requester)
	require.NoError(t, err)
	assert.True(t, second.BothConfirmed())
	require.NotNil(t, second.DateConfirmedAt)
	assert.Equal(t, f.clock.Now(), *second.DateConfirmedAt)
	assert.True(t, f.notifier.has(requester, "date.confirmed"))
	assert.True(t, f.notifier.has(invitee, "date.confirmed"))
}

func TestConfirmDate_ReconfirmIsNoop(t *testing.T) {
	f, req := approvedFixture(t)
	when := f.clock.Now().Add(7 * 24 * time.Hour)
	_, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.NoError(t, err)
	_, err = f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.NoError(t, err)

	again, err := f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	assert.True(t, again.InviteeConfirmed)
	assert.Nil(t, again.DateConfirmedAt)
}

func TestConfirmDate_NoProposal(t *testing.T) {
	f, req := approvedFixture(t)

	var invalid *InvalidStateError
	_, err := f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.ErrorAs(t, err, &invalid)
}

func confirmedFixture(t *testing.T) (*fixture, *model.DateRequest) {
	t.Helper()
	f, req := approvedFixture(t)
	when := f.clock.Now().Add(7 * 24 * time.Hour)
	_, err := f.eng.ProposeDate(context.Background(), req.ID, requester, when, "Luigi's", nil)
	require.NoError(t, err)
	_, err = f.eng.ConfirmDate(context.Background(), req.ID, invitee)
	require.NoError(t, err)
	_, err = f.eng.ConfirmDate(context.Background(), req.ID, requester)
	require.NoError(t, err)
	return f, req
}

func TestReleaseDeposit(t *testing.T) {
	f, req := confirmedFixture(t)
	actor := requester

	result, err := f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, "re_1", result.RefundID)
	assert.Equal(t, 1, f.gateway.refundCount())

	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositReleased, cur.DepositStatus)
	assert.True(t, f.notifier.has(requester, "deposit.released"))

	p, err := f.payments.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)
}

func TestReleaseDeposit_BySweeper(t *testing.T) {
	f, req := confirmedFixture(t)

	_, err := f.eng.ReleaseDeposit(context.Background(), req.ID, nil)
	require.NoError(t, err)
	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositReleased, cur.DepositStatus)
}

func TestReleaseDeposit_Rejections(t *testing.T) {
	f, req := approvedFixture(t)
	actor := requester

	var invalid *InvalidStateError
	_, err := f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.ErrorAs(t, err, &invalid) // nobody confirmed yet

	out := outsider
	var authErr *AuthorizationError
	_, err = f.eng.ReleaseDeposit(context.Background(), req.ID, &out)
	require.ErrorAs(t, err, &authErr)
}

func TestReleaseDeposit_Twice(t *testing.T) {
	f, req := confirmedFixture(t)
	actor := requester
	_, err := f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.NoError(t, err)

	var invalid *InvalidStateError
	_, err = f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Error(), "already released")
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestReleaseDeposit_GatewayFailureRollsBack(t *testing.T) {
	f, req := confirmedFixture(t)
	f.gateway.refundErr = errors.New("processor down")
	actor := requester

	var gwErr *PaymentGatewayError
	_, err := f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.ErrorAs(t, err, &gwErr)

	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositHeld, cur.DepositStatus)

	// A retry after the processor recovers succeeds.
	f.gateway.refundErr = nil
	_, err = f.eng.ReleaseDeposit(context.Background(), req.ID, &actor)
	require.NoError(t, err)
}

// Concurrent releases (a member racing the sweeper, or two members racing
// each other) must produce exactly one gateway refund call.
func TestReleaseDeposit_ConcurrentSingleRefund(t *testing.T) {
	f, req := confirmedFixture(t)

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var actor *uint64
			if i%2 == 0 {
				id := requester
				actor = &id
			}
			if _, err := f.eng.ReleaseDeposit(context.Background(), req.ID, actor); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.gateway.refundCount())
	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositReleased, cur.DepositStatus)
}

// A decline racing an expiry sweep refunds exactly once.
func TestDeclineRacingSweep_SingleRefund(t *testing.T) {
	f := newFixture(t)
	req := f.createHeld(t)
	f.clock.Advance(49 * time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.eng.Decline(context.Background(), req.ID, invitee)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.eng.SweepExpire(context.Background(), req.ID)
	}()
	wg.Wait()

	assert.Equal(t, 1, f.gateway.refundCount())
	cur, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalDeclined, cur.ApprovalStatus)
	assert.Equal(t, model.DepositRefunded, cur.DepositStatus)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	var notFound *NotFoundError
	_, err := f.eng.Approve(context.Background(), 999, invitee)
	require.ErrorAs(t, err, &notFound)
}
