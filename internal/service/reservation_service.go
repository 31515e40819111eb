package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/cinema-seat-hold/internal/lock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

const tracerName = "github.com/iliyamo/cinema-seat-hold/internal/service"

// publishTimeout bounds the wait for a broker confirm after a commit.
const publishTimeout = 5 * time.Second

// Store is the persistence the services need.  *repository.Store
// implements it.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSeats(ctx context.Context, sessionID string) ([]model.Seat, error)
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	ListPurchases(ctx context.Context, userID string) ([]model.Purchase, error)
}

// Locker is the distributed lock.  *lock.RedisLocker implements it.
type Locker interface {
	Acquire(ctx context.Context, key string, opt lock.Options) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// CreateReservationInput identifies the seat a user wants to hold.
type CreateReservationInput struct {
	UserID    string
	SessionID string
	SeatID    string
}

// ConfirmResult is the outcome of a confirmation.  AlreadyConfirmed is
// set when the call was a repeat and changed nothing.
type ConfirmResult struct {
	Reservation      model.Reservation
	AlreadyConfirmed bool
}

// ReservationService owns every seat and reservation state transition.
type ReservationService struct {
	store  Store
	locker Locker
	pub    queue.Publisher
	opts   options
	tracer trace.Tracer
}

// NewReservationService wires the state machine.  pub must not be nil;
// pass queue.Nop{} when events are not wanted.
func NewReservationService(store Store, locker Locker, pub queue.Publisher, opts ...Option) *ReservationService {
	return &ReservationService{
		store:  store,
		locker: locker,
		pub:    pub,
		opts:   buildOptions(opts),
		tracer: otel.Tracer(tracerName),
	}
}

// HoldWindow returns the configured hold window.
func (s *ReservationService) HoldWindow() time.Duration { return s.opts.hold }

// Create holds a seat for the user.  The per-seat distributed lock keeps
// most contention away from the database; the row lock taken inside the
// transaction is what guarantees a single PENDING reservation per seat.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (res model.Reservation, err error) {
	if err := validateIDs(idField{"userId", in.UserID}, idField{"sessionId", in.SessionID}, idField{"seatId", in.SeatID}); err != nil {
		return model.Reservation{}, err
	}

	ctx, span := s.tracer.Start(ctx, "reservation.create", trace.WithAttributes(
		attribute.String("seat.id", in.SeatID),
		attribute.String("session.id", in.SessionID),
	))
	defer func() { endSpan(span, err) }()

	log := s.opts.log.WithFields(logrus.Fields{"seat_id": in.SeatID, "user_id": in.UserID})

	key := lock.SeatKey(in.SeatID)
	token, err := s.locker.Acquire(ctx, key, s.opts.lockOpt)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Info("seat lock busy")
			return model.Reservation{}, conflict(CodeSeatLocked, "seat is locked, try again")
		}
		return model.Reservation{}, internal("acquire seat lock", err)
	}
	defer s.release(ctx, key, token, log)

	now := s.opts.now().UTC()
	res = model.Reservation{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		SeatID:    in.SeatID,
		Status:    model.ReservationPending,
		ExpiresAt: now.Add(s.opts.hold),
		CreatedAt: now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		seat, err := tx.GetSeatForUpdate(ctx, in.SeatID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && seat.SessionID != in.SessionID) {
			return notFound(CodeSeatNotFound, "seat not found")
		}
		if err != nil {
			return err
		}
		if !seat.IsAvailable() {
			return conflict(CodeSeatNotAvailable, "seat not available")
		}
		if err := tx.UpdateSeatStatus(ctx, seat.ID, model.SeatReserved); err != nil {
			return err
		}
		return tx.CreateReservation(ctx, &res)
	})
	if err != nil {
		return model.Reservation{}, internal("create reservation", err)
	}

	log.WithField("reservation_id", res.ID).Info("reservation created")
	s.publish(ctx, queue.TopicReservationCreated, queue.ReservationEvent{
		ReservationID: res.ID, UserID: res.UserID, SeatID: res.SeatID,
	})
	return res, nil
}

// Confirm turns a PENDING reservation into a sale.  Confirming an already
// CONFIRMED reservation succeeds without side effects.  The deadline is
// re-checked here since the sweeper may not have run yet.
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (out ConfirmResult, err error) {
	if err := validateIDs(idField{"reservationId", reservationID}); err != nil {
		return ConfirmResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "reservation.confirm", trace.WithAttributes(
		attribute.String("reservation.id", reservationID),
	))
	defer func() { endSpan(span, err) }()

	log := s.opts.log.WithField("reservation_id", reservationID)

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(CodeReservationNotFound, "reservation not found")
		}
		if err != nil {
			return err
		}
		out = ConfirmResult{Reservation: res}

		switch {
		case res.Status == model.ReservationConfirmed:
			out.AlreadyConfirmed = true
			return nil
		case res.Status != model.ReservationPending:
			return conflict(CodeReservationNotPending, "reservation is not pending")
		case res.IsExpired(s.opts.now()):
			return &Error{Kind: ErrInvalid, Code: CodeReservationExpired, Message: "reservation expired"}
		}

		exists, err := tx.SaleExists(ctx, res.ID)
		if err != nil {
			return err
		}
		if !exists {
			sale := model.Sale{
				ID:            uuid.NewString(),
				ReservationID: res.ID,
				UserID:        res.UserID,
				SessionID:     res.SessionID,
				SeatID:        res.SeatID,
				CreatedAt:     s.opts.now().UTC(),
			}
			if err := tx.CreateSale(ctx, &sale); err != nil && !errors.Is(err, repository.ErrDuplicate) {
				return err
			}
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, model.ReservationConfirmed); err != nil {
			return err
		}
		if err := tx.UpdateSeatStatus(ctx, res.SeatID, model.SeatSold); err != nil {
			return err
		}
		out.Reservation.Status = model.ReservationConfirmed
		return nil
	})
	if err != nil {
		return ConfirmResult{}, internal("confirm reservation", err)
	}

	if out.AlreadyConfirmed {
		log.Debug("reservation already confirmed")
		return out, nil
	}
	log.Info("reservation confirmed")
	r := out.Reservation
	s.publish(ctx, queue.TopicReservationConfirmed, queue.ReservationEvent{
		ReservationID: r.ID, UserID: r.UserID, SeatID: r.SeatID,
	})
	return out, nil
}

// Get returns a reservation by ID.
func (s *ReservationService) Get(ctx context.Context, id string) (model.Reservation, error) {
	if err := validateIDs(idField{"reservationId", id}); err != nil {
		return model.Reservation{}, err
	}
	res, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, notFound(CodeReservationNotFound, "reservation not found")
	}
	if err != nil {
		return model.Reservation{}, internal("get reservation", err)
	}
	return res, nil
}

// publish is best effort: the state change is already committed.  It runs
// detached from the request so a client hanging up after the commit does
// not drop the event.
func (s *ReservationService) publish(ctx context.Context, topic string, payload interface{}) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pctx, topic, payload); err != nil {
		s.opts.log.WithError(err).WithField("topic", topic).Error("event publish failed")
	}
}

// release runs on a context detached from the request so a cancelled
// request still frees the seat lock.
func (s *ReservationService) release(ctx context.Context, key, token string, log logrus.FieldLogger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ok, err := s.locker.Release(rctx, key, token)
	switch {
	case err != nil:
		log.WithError(err).Warn("seat lock release failed")
	case !ok:
		log.Warn("seat lock expired before release")
	}
}

// idField names a request identifier for validation.
type idField struct{ name, value string }

// validateIDs reports the first missing or malformed id in the given order.
func validateIDs(fields ...idField) error {
	for _, f := range fields {
		if f.value == "" {
			return invalid(f.name + " is required")
		}
		if _, err := uuid.Parse(f.value); err != nil {
			return invalid(f.name + " must be a UUID")
		}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
