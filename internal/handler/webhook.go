package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/datesafe/datesafe-server/internal/engine"
)

// WebhookHandler receives asynchronous payment events from the processor.
// The processor signs deliveries with a shared secret header; deliveries
// are at-least-once, so the handler must treat duplicates as success.
type WebhookHandler struct {
	Engine *engine.Engine
	Secret string
}

func NewWebhookHandler(eng *engine.Engine, secret string) *WebhookHandler {
	return &WebhookHandler{Engine: eng, Secret: secret}
}

type paymentEventReq struct {
	RequestID   uint64 `json:"request_id"`
	HoldRef     string `json:"hold_ref"`
	AmountCents int64  `json:"amount_cents"`
	Event       string `json:"event"` // e.g. "payment.succeeded"
}

// PaymentEvent handles POST /v1/payments/webhook.  Only payment.succeeded
// moves state (deposit PENDING -> HELD); other event types are
// acknowledged so the processor stops retrying them.
func (h *WebhookHandler) PaymentEvent(c echo.Context) error {
	got := c.Request().Header.Get("X-Webhook-Secret")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook secret"})
	}
	var req paymentEventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.RequestID == 0 || req.HoldRef == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "request_id and hold_ref required"})
	}
	if req.Event != "payment.succeeded" {
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored", "event": req.Event})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	updated, err := h.Engine.MarkDepositHeld(ctx, req.RequestID, req.HoldRef, req.AmountCents)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(updated))
}
