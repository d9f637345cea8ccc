package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datesafe/datesafe-server/internal/engine"
	"github.com/datesafe/datesafe-server/internal/model"
	"github.com/datesafe/datesafe-server/internal/payment"
	"github.com/datesafe/datesafe-server/internal/repository"
	"github.com/datesafe/datesafe-server/internal/sweeper"
)

type okGateway struct{ refunds int }

func (g *okGateway) CreateHold(_ context.Context, _ int64, _ string, _ map[string]string) (string, error) {
	return "hold_test", nil
}

func (g *okGateway) Refund(_ context.Context, _ string, _ int64) (payment.RefundResult, error) {
	g.refunds++
	return payment.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil
}

func (g *okGateway) HoldStatus(_ context.Context, _ string) (string, error) { return "held", nil }

type silentNotifier struct{}

func (silentNotifier) Notify(_ context.Context, _ uint64, _ string, _ map[string]any) error {
	return nil
}

func newCronFixture(t *testing.T) (*CronHandler, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	eng := engine.New(store, repository.NewMemoryPaymentLog(), &okGateway{}, silentNotifier{}, engine.Options{})
	return NewCronHandler(sweeper.New(store, eng), "cron-secret"), store
}

func doCron(h echo.HandlerFunc, secret string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if secret != "" {
		req.Header.Set("X-Cron-Secret", secret)
	}
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	return rec
}

func TestExpireSweep_RejectsBadSecret(t *testing.T) {
	h, _ := newCronFixture(t)
	assert.Equal(t, http.StatusUnauthorized, doCron(h.ExpireSweep, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doCron(h.ExpireSweep, "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, doCron(h.ReleaseSweep, "wrong").Code)
}

func TestExpireSweep_ReturnsSummary(t *testing.T) {
	h, store := newCronFixture(t)
	req := &model.DateRequest{
		RequesterID:    1,
		InviteeID:      2,
		ApprovalStatus: model.ApprovalPending,
		DepositStatus:  model.DepositPending,
		DepositCents:   5000,
		ExpiresAt:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), req))
	_, err := store.Apply(context.Background(), req.ID, model.MarkHeldUpdate{HoldRef: "hold_test"})
	require.NoError(t, err)

	rec := doCron(h.ExpireSweep, "cron-secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum sweeper.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.RefundsProcessed)

	// Re-triggering the sweep is harmless.
	rec = doCron(h.ExpireSweep, "cron-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 0, sum.Processed)
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *model.DateRequest) {
	t.Helper()
	store := repository.NewMemoryStore()
	eng := engine.New(store, repository.NewMemoryPaymentLog(), &okGateway{}, silentNotifier{}, engine.Options{})
	req, err := eng.CreateRequest(context.Background(), engine.CreateRequestInput{
		RequesterID:  1,
		InviteeID:    2,
		DepositCents: 5000,
	})
	require.NoError(t, err)
	return NewWebhookHandler(eng, "hook-secret"), req
}

func doWebhook(h *WebhookHandler, secret, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	_ = h.PaymentEvent(e.NewContext(req, rec))
	return rec
}

func TestPaymentEvent(t *testing.T) {
	h, created := newWebhookFixture(t)
	body := `{"request_id":1,"hold_ref":"hold_test","amount_cents":5000,"event":"payment.succeeded"}`

	rec := doWebhook(h, "hook-secret", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var view requestView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, created.ID, view.ID)
	assert.Equal(t, string(model.DepositHeld), view.DepositStatus)

	// Processors deliver at least once; the duplicate must also return 200.
	rec = doWebhook(h, "hook-secret", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentEvent_Rejections(t *testing.T) {
	h, _ := newWebhookFixture(t)
	body := `{"request_id":1,"hold_ref":"hold_test","amount_cents":5000,"event":"payment.succeeded"}`

	assert.Equal(t, http.StatusUnauthorized, doWebhook(h, "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, doWebhook(h, "wrong", body).Code)
	assert.Equal(t, http.StatusBadRequest, doWebhook(h, "hook-secret", `{"event":"payment.succeeded"}`).Code)
	assert.Equal(t, http.StatusNotFound, doWebhook(h, "hook-secret", `{"request_id":99,"hold_ref":"x","event":"payment.succeeded"}`).Code)
}

func TestPaymentEvent_IgnoresOtherEvents(t *testing.T) {
	h, _ := newWebhookFixture(t)
	rec := doWebhook(h, "hook-secret", `{"request_id":1,"hold_ref":"hold_test","event":"payment.failed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}
