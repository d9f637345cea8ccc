package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/datesafe/datesafe-server/internal/engine"
	"github.com/datesafe/datesafe-server/internal/model"
	"github.com/datesafe/datesafe-server/internal/policy"
)

// RequestHandler exposes the date request lifecycle over HTTP.  All
// transitions go through the engine; the store is used directly only for
// the read paths (listing and detail).
type RequestHandler struct {
	Engine *engine.Engine
	Store  engine.RequestStore
}

func NewRequestHandler(eng *engine.Engine, store engine.RequestStore) *RequestHandler {
	return &RequestHandler{Engine: eng, Store: store}
}

// ----- DTOs -----

type createRequestReq struct {
	InviteeID        uint64  `json:"invitee_id"`
	DepositCents     int64   `json:"deposit_cents"`
	IntroMessage     string  `json:"intro_message"`
	SlotID           *uint64 `json:"slot_id"`
	ScreeningAnswers *string `json:"screening_answers"`
}

type proposeDateReq struct {
	DateTime string  `json:"date_time"` // RFC 3339
	Location string  `json:"location"`
	Details  *string `json:"details"`
}

// requestView is the wire shape of a date request.  Nullable columns map
// to pointer fields so absent values render as JSON null.
type requestView struct {
	ID                 uint64  `json:"id"`
	RequesterID        uint64  `json:"requester_id"`
	InviteeID          uint64  `json:"invitee_id"`
	ApprovalStatus     string  `json:"approval_status"`
	DepositStatus      string  `json:"deposit_status"`
	DepositCents       int64   `json:"deposit_cents"`
	IntroMessage       string  `json:"intro_message"`
	SlotID             *uint64 `json:"slot_id"`
	ScreeningAnswers   *string `json:"screening_answers"`
	ExpiresAt          string  `json:"expires_at"`
	ConfirmedDateTime  *string `json:"confirmed_date_time"`
	ConfirmedLocation  *string `json:"confirmed_location"`
	ConfirmedDetails   *string `json:"confirmed_details"`
	InviteeConfirmed   bool    `json:"invitee_confirmed"`
	RequesterConfirmed bool    `json:"requester_confirmed"`
	DateConfirmedAt    *string `json:"date_confirmed_at"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func viewOf(r *model.DateRequest) requestView {
	v := requestView{
		ID:                 r.ID,
		RequesterID:        r.RequesterID,
		InviteeID:          r.InviteeID,
		ApprovalStatus:     string(r.ApprovalStatus),
		DepositStatus:      string(r.DepositStatus),
		DepositCents:       r.DepositCents,
		IntroMessage:       r.IntroMessage,
		SlotID:             r.SlotID,
		ScreeningAnswers:   r.ScreeningAnswers,
		ExpiresAt:          r.ExpiresAt.UTC().Format(time.RFC3339),
		ConfirmedLocation:  r.ConfirmedLocation,
		ConfirmedDetails:   r.ConfirmedDetails,
		InviteeConfirmed:   r.InviteeConfirmed,
		RequesterConfirmed: r.RequesterConfirmed,
		CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.ConfirmedDateTime != nil {
		s := r.ConfirmedDateTime.UTC().Format(time.RFC3339)
		v.ConfirmedDateTime = &s
	}
	if r.DateConfirmedAt != nil {
		s := r.DateConfirmedAt.UTC().Format(time.RFC3339)
		v.DateConfirmedAt = &s
	}
	return v
}

// actorID extracts the authenticated user's ID from the Echo context.
// JWTAuth stores raw claim values, so the subject may be a JSON number
// (float64) or a string.
func actorID(c echo.Context) (uint64, error) {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v), nil
	case string:
		return strconv.ParseUint(v, 10, 64)
	case uint64:
		return v, nil
	}
	return 0, errors.New("no authenticated user")
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses:
// authorization failures are 403, unknown requests 404, expired approval
// windows 410, state conflicts 409 and processor failures 502.
func writeEngineError(c echo.Context, err error) error {
	var authErr *engine.AuthorizationError
	var notFound *engine.NotFoundError
	var expired *engine.ExpiredError
	var invalid *engine.InvalidStateError
	var gateway *engine.PaymentGatewayError
	switch {
	case errors.As(err, &authErr):
		return c.JSON(http.StatusForbidden, echo.Map{"error": authErr.Error()})
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": notFound.Error()})
	case errors.As(err, &expired):
		return c.JSON(http.StatusGone, echo.Map{"error": expired.Error()})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusConflict, echo.Map{"error": invalid.Error()})
	case errors.As(err, &gateway):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": gateway.Error()})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// Create handles POST /v1/requests.
func (h *RequestHandler) Create(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createRequestReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.InviteeID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invitee_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	created, err := h.Engine.CreateRequest(ctx, engine.CreateRequestInput{
		RequesterID:      uid,
		InviteeID:        req.InviteeID,
		DepositCents:     req.DepositCents,
		IntroMessage:     req.IntroMessage,
		SlotID:           req.SlotID,
		ScreeningAnswers: req.ScreeningAnswers,
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(created))
}

// List handles GET /v1/requests: every request the caller sent or
// received, newest first.
func (h *RequestHandler) List(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	reqs, err := h.Store.ListByParty(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list failed"})
	}
	views := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, viewOf(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": views})
}

// Get handles GET /v1/requests/:id.  Only a party may view a request.
func (h *RequestHandler) Get(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	req, err := h.Store.Get(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	}
	if !req.IsParty(uid) {
		// 404 rather than 403 so outsiders cannot probe for request IDs.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	}
	return c.JSON(http.StatusOK, viewOf(req))
}

// Approve handles POST /v1/requests/:id/approve.
func (h *RequestHandler) Approve(c echo.Context) error {
	return h.decide(c, h.Engine.Approve)
}

// Decline handles POST /v1/requests/:id/decline.
func (h *RequestHandler) Decline(c echo.Context) error {
	return h.decide(c, h.Engine.Decline)
}

func (h *RequestHandler) decide(c echo.Context, op func(context.Context, uint64, uint64) (*model.DateRequest, error)) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}

	// Decline may drive a synchronous refund, so allow processor latency.
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	updated, err := op(ctx, id, uid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(updated))
}

// Propose handles POST /v1/requests/:id/date.
func (h *RequestHandler) Propose(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}
	var req proposeDateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	when, err := time.Parse(time.RFC3339, req.DateTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date_time must be RFC 3339"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	updated, err := h.Engine.ProposeDate(ctx, id, uid, when, req.Location, req.Details)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(updated))
}

// Confirm handles POST /v1/requests/:id/date/confirm.
func (h *RequestHandler) Confirm(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	updated, err := h.Engine.ConfirmDate(ctx, id, uid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(updated))
}

// Release handles POST /v1/requests/:id/deposit/release.  A party may
// release early instead of waiting for the sweep.
func (h *RequestHandler) Release(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	result, err := h.Engine.ReleaseDeposit(ctx, id, &uid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"refund_id":    result.RefundID,
		"amount_cents": result.AmountCents,
		"status":       result.Status,
	})
}

// CancellationQuote handles GET /v1/requests/:id/cancellation-quote?tier=.
// It is a read-only preview of the refund/forfeiture split a cancellation
// would produce right now; no money moves.
func (h *RequestHandler) CancellationQuote(c echo.Context) error {
	uid, err := actorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := requestIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}
	tierName := c.QueryParam("tier")
	if tierName == "" {
		tierName = string(policy.TierModerate)
	}
	tier, err := policy.ParseTier(tierName)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	req, err := h.Store.Get(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	}
	if !req.IsParty(uid) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	}
	if req.ConfirmedDateTime == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "no scheduled date to quote against"})
	}

	breakdown := policy.Calculate(req.DepositCents, *req.ConfirmedDateTime, time.Now().UTC(), tier)
	return c.JSON(http.StatusOK, echo.Map{
		"request_id": id,
		"tier":       string(tier),
		"quote":      breakdown,
	})
}

func requestIDParam(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}
