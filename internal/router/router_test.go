package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

type nopReservations struct{}

func (nopReservations) Create(context.Context, service.CreateReservationInput) (model.Reservation, error) {
	return model.Reservation{ID: "r1", Status: model.ReservationPending}, nil
}
func (nopReservations) Confirm(context.Context, string) (service.ConfirmResult, error) {
	return service.ConfirmResult{}, nil
}
func (nopReservations) Get(context.Context, string) (model.Reservation, error) {
	return model.Reservation{ID: "r1"}, nil
}

type nopSessions struct{}

func (nopSessions) Create(context.Context, service.CreateSessionInput) (model.Session, error) {
	return model.Session{}, nil
}
func (nopSessions) Seats(context.Context, string) (service.SeatListing, error) {
	return service.SeatListing{}, nil
}
func (nopSessions) Purchases(context.Context, string) ([]model.Purchase, error) { return nil, nil }

func newEcho(jwtSecret string) *echo.Echo {
	log := logrus.New()
	log.Out = io.Discard
	cache := middleware.NewResponseCache(config.CacheConfig{}, nil, log)

	e := echo.New()
	Register(e, Deps{
		Reservations: handler.NewReservationHandler(nopReservations{}, cache, log),
		Sessions:     handler.NewSessionHandler(nopSessions{}, log),
		Health:       handler.Health(nil),
		Cache:        cache,
		RateLimit:    middleware.NewTokenBucket(config.RateLimitConfig{}, nil, log),
		JWTSecret:    jwtSecret,
	})
	return e
}

func TestRoutesRegistered(t *testing.T) {
	e := newEcho("")
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodPost, "/v1/reservations", `{"userId":"u"}`, http.StatusCreated},
		{http.MethodPost, "/v1/reservations/r1/confirm", "", http.StatusOK},
		{http.MethodGet, "/v1/reservations/r1", "", http.StatusOK},
		{http.MethodGet, "/v1/sessions/s1/seats", "", http.StatusOK},
		{http.MethodGet, "/v1/users/u1/purchases", "", http.StatusOK},
		{http.MethodGet, "/v1/unknown", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestUserRoutesRequireTokenWhenConfigured(t *testing.T) {
	e := newEcho("secret")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reservations/r1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/seats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
