package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/datesafe/datesafe-server/internal/sweeper"
)

// CronHandler exposes the sweep passes to an external scheduler.  Both
// endpoints are idempotent: a request already finalized by a previous pass
// (or by the in-process ticker) is skipped, so overlapping triggers are
// harmless.
type CronHandler struct {
	Sweeper *sweeper.Sweeper
	Secret  string
}

func NewCronHandler(s *sweeper.Sweeper, secret string) *CronHandler {
	return &CronHandler{Sweeper: s, Secret: secret}
}

// authorized compares the X-Cron-Secret header in constant time.
func (h *CronHandler) authorized(c echo.Context) bool {
	got := c.Request().Header.Get("X-Cron-Secret")
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

// ExpireSweep handles POST /v1/internal/sweeps/expire: auto-decline every
// request whose approval window has lapsed and refund held deposits.
func (h *CronHandler) ExpireSweep(c echo.Context) error {
	if !h.authorized(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid cron secret"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	summary, err := h.Sweeper.RunExpirySweep(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed", "summary": summary})
	}
	return c.JSON(http.StatusOK, summary)
}

// ReleaseSweep handles POST /v1/internal/sweeps/release: release deposits
// for mutually confirmed dates that are still HELD.
func (h *CronHandler) ReleaseSweep(c echo.Context) error {
	if !h.authorized(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid cron secret"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	summary, err := h.Sweeper.RunReleaseSweep(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed", "summary": summary})
	}
	return c.JSON(http.StatusOK, summary)
}
