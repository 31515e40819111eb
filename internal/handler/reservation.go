package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/cinema-seat-hold/internal/middleware"
    "github.com/iliyamo/cinema-seat-hold/internal/model"
    "github.com/iliyamo/cinema-seat-hold/internal/service"
)

// ReservationUseCases is implemented by *service.ReservationService.
type ReservationUseCases interface {
    Create(ctx context.Context, in service.CreateReservationInput) (model.Reservation, error)
    Confirm(ctx context.Context, reservationID string) (service.ConfirmResult, error)
    Get(ctx context.Context, id string) (model.Reservation, error)
}

// SeatsInvalidator drops cached seat listings of a session.
type SeatsInvalidator interface {
    InvalidateSeats(ctx context.Context, sessionID string) error
}

// ReservationHandler exposes the reservation state machine over HTTP.
type ReservationHandler struct {
    svc   ReservationUseCases
    cache SeatsInvalidator
    log   logrus.FieldLogger
}

// NewReservationHandler builds the handler.  cache is invalidated after
// every seat state change so listings do not lag behind the hold.
func NewReservationHandler(svc ReservationUseCases, cache SeatsInvalidator, log logrus.FieldLogger) *ReservationHandler {
    return &ReservationHandler{svc: svc, cache: cache, log: log}
}

type createReservationRequest struct {
    UserID    string `json:"userId"`
    SessionID string `json:"sessionId"`
    SeatID    string `json:"seatId"`
}

type createReservationResponse struct {
    ID        string    `json:"id"`
    Status    string    `json:"status"`
    ExpiresAt time.Time `json:"expiresAt"`
}

type reservationResponse struct {
    ID        string    `json:"id"`
    UserID    string    `json:"userId"`
    SessionID string    `json:"sessionId"`
    SeatID    string    `json:"seatId"`
    Status    string    `json:"status"`
    ExpiresAt time.Time `json:"expiresAt"`
    CreatedAt time.Time `json:"createdAt"`
}

// Create handles POST /v1/reservations.  It returns 201 with the
// reservation id, status and expiry.
func (h *ReservationHandler) Create(c echo.Context) error {
    var req createReservationRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    if !middleware.AuthorizedFor(c, req.UserID) {
        return forbidden(c)
    }

    ctx := c.Request().Context()
    res, err := h.svc.Create(ctx, service.CreateReservationInput{
        UserID:    req.UserID,
        SessionID: req.SessionID,
        SeatID:    req.SeatID,
    })
    if err != nil {
        return respondError(c, h.log, err)
    }
    h.invalidate(ctx, res.SessionID)
    return c.JSON(http.StatusCreated, createReservationResponse{
        ID:        res.ID,
        Status:    string(res.Status),
        ExpiresAt: res.ExpiresAt,
    })
}

// Confirm handles POST /v1/reservations/:id/confirm.  Repeating the call
// on a confirmed reservation returns the same 200 response.
func (h *ReservationHandler) Confirm(c echo.Context) error {
    ctx := c.Request().Context()
    id := c.Param("id")

    current, err := h.svc.Get(ctx, id)
    if err != nil {
        return respondError(c, h.log, err)
    }
    if !middleware.AuthorizedFor(c, current.UserID) {
        return forbidden(c)
    }

    out, err := h.svc.Confirm(ctx, id)
    if err != nil {
        return respondError(c, h.log, err)
    }
    if !out.AlreadyConfirmed {
        h.invalidate(ctx, out.Reservation.SessionID)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "id":      out.Reservation.ID,
        "status":  string(model.ReservationConfirmed),
        "message": "payment confirmed",
    })
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
    res, err := h.svc.Get(c.Request().Context(), c.Param("id"))
    if err != nil {
        return respondError(c, h.log, err)
    }
    if !middleware.AuthorizedFor(c, res.UserID) {
        return forbidden(c)
    }
    return c.JSON(http.StatusOK, reservationResponse{
        ID:        res.ID,
        UserID:    res.UserID,
        SessionID: res.SessionID,
        SeatID:    res.SeatID,
        Status:    string(res.Status),
        ExpiresAt: res.ExpiresAt,
        CreatedAt: res.CreatedAt,
    })
}

func (h *ReservationHandler) invalidate(ctx context.Context, sessionID string) {
    if err := h.cache.InvalidateSeats(ctx, sessionID); err != nil {
        h.log.WithError(err).WithField("session_id", sessionID).Warn("seat cache invalidation failed")
    }
}
