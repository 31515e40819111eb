package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// MaxSeatsPerSession bounds the bulk insert of a new session.
const MaxSeatsPerSession = 1000

// CreateSessionInput describes a new screening.
type CreateSessionInput struct {
	MovieTitle string
	Room       string
	StartsAt   time.Time
	PriceCents uint32
	TotalSeats int
}

// SeatSummary counts seats per status.
type SeatSummary struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Sold      int `json:"sold"`
}

// SeatListing is a session with its seats.
type SeatListing struct {
	Session model.Session
	Seats   []model.Seat
	Summary SeatSummary
}

// SessionService manages sessions and the read side of sales.
type SessionService struct {
	store Store
	opts  options
}

// NewSessionService returns a SessionService on store.
func NewSessionService(store Store, opts ...Option) *SessionService {
	return &SessionService{store: store, opts: buildOptions(opts)}
}

// Create inserts a session and its seats, numbered from 1, in one
// transaction.
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (model.Session, error) {
	in.MovieTitle = strings.TrimSpace(in.MovieTitle)
	in.Room = strings.TrimSpace(in.Room)
	switch {
	case in.MovieTitle == "":
		return model.Session{}, invalid("movieTitle is required")
	case in.Room == "":
		return model.Session{}, invalid("room is required")
	case in.StartsAt.IsZero():
		return model.Session{}, invalid("dateTime is required")
	case in.PriceCents == 0:
		return model.Session{}, invalid("price must be positive")
	case in.TotalSeats < 1 || in.TotalSeats > MaxSeatsPerSession:
		return model.Session{}, invalid("totalSeats must be between 1 and 1000")
	}

	sess := model.Session{
		ID:         uuid.NewString(),
		MovieTitle: in.MovieTitle,
		Room:       in.Room,
		StartsAt:   in.StartsAt.UTC(),
		PriceCents: in.PriceCents,
		CreatedAt:  s.opts.now().UTC(),
	}
	seats := make([]model.Seat, in.TotalSeats)
	for i := range seats {
		seats[i] = model.Seat{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Number:    uint32(i + 1),
			Status:    model.SeatAvailable,
		}
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateSession(ctx, &sess); err != nil {
			return err
		}
		return tx.CreateSeats(ctx, seats)
	})
	if err != nil {
		return model.Session{}, internal("create session", err)
	}
	s.opts.log.WithField("session_id", sess.ID).WithField("seats", in.TotalSeats).Info("session created")
	return sess, nil
}

// Seats lists the seats of a session with a per-status summary.
func (s *SessionService) Seats(ctx context.Context, sessionID string) (SeatListing, error) {
	if err := validateIDs(idField{"sessionId", sessionID}); err != nil {
		return SeatListing{}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return SeatListing{}, notFound(CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return SeatListing{}, internal("get session", err)
	}
	seats, err := s.store.ListSeats(ctx, sessionID)
	if err != nil {
		return SeatListing{}, internal("list seats", err)
	}
	return SeatListing{Session: sess, Seats: seats, Summary: summarize(seats)}, nil
}

// Purchases returns the user's confirmed purchases, newest first.
func (s *SessionService) Purchases(ctx context.Context, userID string) ([]model.Purchase, error) {
	if err := validateIDs(idField{"userId", userID}); err != nil {
		return nil, err
	}
	out, err := s.store.ListPurchases(ctx, userID)
	if err != nil {
		return nil, internal("list purchases", err)
	}
	return out, nil
}

func summarize(seats []model.Seat) SeatSummary {
	sum := SeatSummary{Total: len(seats)}
	for _, st := range seats {
		switch st.Status {
		case model.SeatAvailable:
			sum.Available++
		case model.SeatReserved:
			sum.Reserved++
		case model.SeatSold:
			sum.Sold++
		}
	}
	return sum
}
