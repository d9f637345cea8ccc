package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/datesafe/datesafe-server/internal/handler"    // import the handlers that implement business logic
	"github.com/datesafe/datesafe-server/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance: the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	// Liveness for load balancers; readiness additionally pings the DB.
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers all authentication‑related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Session bootstrap endpoints; none of these require an existing token.
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates the refresh token; refresh-access issues a new access
	// token without rotation.
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts either a Bearer token (revoke all sessions) or a
	// refresh_token body (revoke one session), so it skips the JWT middleware.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("MEMBER", "ADMIN"))
	auth.GET("/me", a.Me)
}

// RegisterRequests registers the date request lifecycle endpoints under
// /v1/requests.  Every route requires a valid member JWT; the rate limiter
// guards the mutating endpoints and the response cache covers the read
// paths.  Extra middleware may be nil when Redis is unavailable.
func RegisterRequests(e *echo.Echo, h *handler.RequestHandler, jwtSecret string, rateLimit, cache echo.MiddlewareFunc) {
	mws := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("MEMBER", "ADMIN"),
	}
	if rateLimit != nil {
		mws = append(mws, rateLimit)
	}
	g := e.Group("/v1/requests", mws...)

	g.POST("", h.Create)
	g.POST("/:id/approve", h.Approve)
	g.POST("/:id/decline", h.Decline)
	g.POST("/:id/date", h.Propose)
	g.POST("/:id/date/confirm", h.Confirm)
	g.POST("/:id/deposit/release", h.Release)

	if cache != nil {
		g.GET("", h.List, cache)
		g.GET("/:id", h.Get, cache)
		g.GET("/:id/cancellation-quote", h.CancellationQuote, cache)
	} else {
		g.GET("", h.List)
		g.GET("/:id", h.Get)
		g.GET("/:id/cancellation-quote", h.CancellationQuote)
	}
}

// RegisterInternal registers the machine-to-machine surface: the payment
// processor webhook and the scheduler-triggered sweeps.  Both authenticate
// with shared secrets inside their handlers instead of JWTs.
func RegisterInternal(e *echo.Echo, w *handler.WebhookHandler, cron *handler.CronHandler) {
	e.POST("/v1/payments/webhook", w.PaymentEvent)
	e.POST("/v1/internal/sweeps/expire", cron.ExpireSweep)
	e.POST("/v1/internal/sweeps/release", cron.ReleaseSweep)
}
