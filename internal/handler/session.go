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

// SessionUseCases is implemented by *service.SessionService.
type SessionUseCases interface {
    Create(ctx context.Context, in service.CreateSessionInput) (model.Session, error)
    Seats(ctx context.Context, sessionID string) (service.SeatListing, error)
    Purchases(ctx context.Context, userID string) ([]model.Purchase, error)
}

// SessionHandler serves the session catalog and purchase history.
type SessionHandler struct {
    svc SessionUseCases
    log logrus.FieldLogger
}

// NewSessionHandler builds the handler.
func NewSessionHandler(svc SessionUseCases, log logrus.FieldLogger) *SessionHandler {
    return &SessionHandler{svc: svc, log: log}
}

type createSessionRequest struct {
    MovieTitle string `json:"movieTitle"`
    Room       string `json:"room"`
    DateTime   string `json:"dateTime"` // RFC 3339
    PriceCents uint32 `json:"priceCents"`
    TotalSeats int    `json:"totalSeats"`
}

type seatResponse struct {
    ID     string `json:"id"`
    Number uint32 `json:"number"`
    Status string `json:"status"`
}

// Create handles POST /v1/sessions and creates the session's seats.
func (h *SessionHandler) Create(c echo.Context) error {
    var req createSessionRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    startsAt, err := time.Parse(time.RFC3339, req.DateTime)
    if err != nil {
        return badRequest(c, "dateTime must be RFC 3339")
    }
    sess, err := h.svc.Create(c.Request().Context(), service.CreateSessionInput{
        MovieTitle: req.MovieTitle,
        Room:       req.Room,
        StartsAt:   startsAt,
        PriceCents: req.PriceCents,
        TotalSeats: req.TotalSeats,
    })
    if err != nil {
        return respondError(c, h.log, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "id":         sess.ID,
        "movieTitle": sess.MovieTitle,
        "room":       sess.Room,
        "dateTime":   sess.StartsAt,
        "priceCents": sess.PriceCents,
        "totalSeats": req.TotalSeats,
    })
}

// Seats handles GET /v1/sessions/:id/seats.
func (h *SessionHandler) Seats(c echo.Context) error {
    listing, err := h.svc.Seats(c.Request().Context(), c.Param("id"))
    if err != nil {
        return respondError(c, h.log, err)
    }
    seats := make([]seatResponse, len(listing.Seats))
    for i, s := range listing.Seats {
        seats[i] = seatResponse{ID: s.ID, Number: s.Number, Status: string(s.Status)}
    }
    sess := listing.Session
    return c.JSON(http.StatusOK, echo.Map{
        "sessionId":  sess.ID,
        "movieTitle": sess.MovieTitle,
        "room":       sess.Room,
        "dateTime":   sess.StartsAt,
        "priceCents": sess.PriceCents,
        "seats":      seats,
        "summary":    listing.Summary,
    })
}

// Purchases handles GET /v1/users/:userId/purchases.
func (h *SessionHandler) Purchases(c echo.Context) error {
    userID := c.Param("userId")
    if !middleware.AuthorizedFor(c, userID) {
        return forbidden(c)
    }
    purchases, err := h.svc.Purchases(c.Request().Context(), userID)
    if err != nil {
        return respondError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "userId":         userID,
        "totalPurchases": len(purchases),
        "purchases":      purchases,
    })
}
