package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// ExpireDue expires up to limit PENDING reservations whose deadline has
// passed and gives their seats back, all in one transaction.  Events are
// published after commit.  It returns how many reservations it expired;
// zero is a normal outcome.
func (s *ReservationService) ExpireDue(ctx context.Context, limit int) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.expire_due")
	defer func() {
		span.SetAttributes(attribute.Int("expired", n))
		endSpan(span, err)
	}()

	var expired []model.Reservation
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		due, err := tx.ListExpiredPendingForUpdate(ctx, s.opts.now(), limit)
		if err != nil {
			return err
		}
		for _, res := range due {
			if err := tx.UpdateReservationStatus(ctx, res.ID, model.ReservationExpired); err != nil {
				return err
			}
			if err := tx.UpdateSeatStatus(ctx, res.SeatID, model.SeatAvailable); err != nil {
				return err
			}
		}
		expired = due
		return nil
	})
	if err != nil {
		return 0, internal("expire reservations", err)
	}

	for _, res := range expired {
		s.opts.log.WithField("reservation_id", res.ID).WithField("seat_id", res.SeatID).Info("reservation expired")
		s.publish(ctx, queue.TopicReservationExpired, queue.ReservationEvent{
			ReservationID: res.ID, UserID: res.UserID, SeatID: res.SeatID,
		})
		s.publish(ctx, queue.TopicSeatReleased, queue.SeatReleasedEvent{
			SeatID: res.SeatID, SessionID: res.SessionID,
		})
	}
	return len(expired), nil
}
