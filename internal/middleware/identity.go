package middleware

// identity.go holds helpers shared by the auth and rate limit middleware
// for reading the authenticated user from the Echo context.

import "github.com/labstack/echo/v4"

// contextUserKey is where JWTAuth stores the token subject.
const contextUserKey = "user_id"

// currentUserID returns the authenticated user or "anon".
func currentUserID(c echo.Context) string {
    if s, ok := c.Get(contextUserKey).(string); ok && s != "" {
        return s
    }
    return "anon"
}

// AuthorizedFor reports whether the request may act on behalf of userID.
// Without authentication configured every request is allowed; otherwise
// the token subject must equal userID.
func AuthorizedFor(c echo.Context, userID string) bool {
    v := c.Get(contextUserKey)
    if v == nil {
        return true
    }
    s, ok := v.(string)
    return ok && s == userID
}
