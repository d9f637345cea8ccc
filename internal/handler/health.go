package handler // declare the package name; contains HTTP handlers

import (
    "context"      // context bounds the readiness DB ping
    "database/sql" // database handle for the readiness check
    "net/http"     // net/http provides status codes and response helpers
    "time"         // timeout for the readiness DB ping

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Health is a simple health‑check endpoint used by load balancers and
// monitoring systems to verify that the service is running.  It returns
// a plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready returns a readiness probe that also verifies the database is
// reachable.  The sweeper and every lifecycle transition need the
// database, so an instance without it should not receive traffic.
func Ready(db *sql.DB) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()
        if err := db.PingContext(ctx); err != nil {
            return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "error": "database unreachable"})
        }
        return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
    }
}
