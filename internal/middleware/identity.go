package middleware

// identity.go defines helper functions shared across middleware files.  It
// provides a userID extraction function that reads the identifier stored in
// the Echo context by JWTAuth.  When no user is authenticated, "guest" is
// returned so that rate limiting and caching still produce stable keys.

import (
    "fmt"

    "github.com/labstack/echo/v4"
)

// userID extracts a user identifier from the Echo context.  JWTAuth stores
// the token subject under "user_id"; depending on how the token was issued
// the claim may arrive as a string or a JSON number, so both are handled.
// It returns "guest" when no user is authenticated.
func userID(c echo.Context) string {
    v := c.Get("user_id")
    if v == nil {
        return "guest"
    }
    switch id := v.(type) {
    case string:
        if id != "" {
            return id
        }
    case float64:
        return fmt.Sprintf("%.0f", id)
    case uint64:
        return fmt.Sprintf("%d", id)
    }
    return "guest"
}
