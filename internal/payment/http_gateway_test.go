package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHold(t *testing.T) {
	var gotIdem, gotAuth string
	var gotBody holdRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/holds", r.URL.Path)
		gotIdem = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(holdResponse{HoldRef: "hold_abc", Status: "held"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", nil)
	ref, err := g.CreateHold(context.Background(), 5000, "usd", map[string]string{"request_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "hold_abc", ref)
	assert.Equal(t, "hold:42", gotIdem)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, int64(5000), gotBody.AmountCents)
	assert.Equal(t, "usd", gotBody.Currency)
}

func TestCreateHold_EmptyRefRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(holdResponse{Status: "held"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", nil)
	_, err := g.CreateHold(context.Background(), 5000, "usd", nil)
	assert.Error(t, err)
}

func TestRefund(t *testing.T) {
	var gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/holds/hold_abc/refund", r.URL.Path)
		gotIdem = r.Header.Get("Idempotency-Key")
		var body refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// amount_cents is omitted for full refunds.
		assert.Equal(t, int64(0), body.AmountCents)
		json.NewEncoder(w).Encode(RefundResult{RefundID: "re_1", AmountCents: 5000, Status: "succeeded"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", nil)
	res, err := g.Refund(context.Background(), "hold_abc", 0)
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, int64(5000), res.AmountCents)
	assert.Equal(t, "refund:hold_abc", gotIdem)
}

func TestRefund_ProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"hold already refunded"}`, http.StatusConflict)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", nil)
	_, err := g.Refund(context.Background(), "hold_abc", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "already refunded")
}

func TestHoldStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/holds/hold_abc", r.URL.Path)
		json.NewEncoder(w).Encode(holdResponse{HoldRef: "hold_abc", Status: "held"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", nil)
	status, err := g.HoldStatus(context.Background(), "hold_abc")
	require.NoError(t, err)
	assert.Equal(t, "held", status)
}
