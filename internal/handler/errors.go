package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/cinema-seat-hold/internal/service"
)

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
    switch {
    case errors.Is(err, service.ErrNotFound):
        return http.StatusNotFound
    case errors.Is(err, service.ErrConflict):
        return http.StatusConflict
    case errors.Is(err, service.ErrInvalid):
        return http.StatusBadRequest
    default:
        return http.StatusInternalServerError
    }
}

// respondError writes {"error", "code"}.  Unclassified and transient
// failures are logged and answered with a generic message.
func respondError(c echo.Context, log logrus.FieldLogger, err error) error {
    status := statusFor(err)
    var se *service.Error
    if status == http.StatusInternalServerError || !errors.As(err, &se) {
        log.WithError(err).WithField("path", c.Path()).Error("request failed")
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": service.CodeInternal})
    }
    return c.JSON(status, echo.Map{"error": se.Message, "code": se.Code})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": service.CodeInvalidArgument})
}

func forbidden(c echo.Context) error {
    return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "code": "FORBIDDEN"})
}
