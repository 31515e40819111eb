package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Health reports whether the process is up and its dependencies answer.
// Each named check gets a short timeout; any failure turns the response
// into a 503 listing the failing dependency.
func Health(checks map[string]Check) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        status := http.StatusOK
        deps := make(map[string]string, len(checks))
        for name, check := range checks {
            if err := check(ctx); err != nil {
                deps[name] = err.Error()
                status = http.StatusServiceUnavailable
                continue
            }
            deps[name] = "ok"
        }
        overall := "ok"
        if status != http.StatusOK {
            overall = "degraded"
        }
        return c.JSON(status, echo.Map{"status": overall, "dependencies": deps})
    }
}
