package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-hold/internal/queue"
)

// SeatsInvalidator drops cached seat listings of a session.
type SeatsInvalidator interface {
	InvalidateSeats(ctx context.Context, sessionID string) error
}

// ReservationCreatedHandler schedules an early sweep for when the new
// reservation's hold window ends.  Malformed messages are logged and
// acknowledged since a redelivery would fail the same way.
func ReservationCreatedHandler(sw *ExpirationSweeper, holdWindow time.Duration, log logrus.FieldLogger) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var ev queue.ReservationEvent
		if err := msg.Decode(&ev); err != nil || ev.ReservationID == "" {
			log.WithError(err).WithField("message_id", msg.ID).Warn("dropping malformed reservation-created event")
			return nil
		}
		delay := holdWindow - time.Since(msg.Timestamp)
		if msg.Timestamp.IsZero() || delay > holdWindow {
			delay = holdWindow
		}
		if delay < 0 {
			delay = 0
		}
		sw.Schedule(ev.ReservationID, delay)
		log.WithField("reservation_id", ev.ReservationID).WithField("in", delay).Debug("expiration check scheduled")
		return nil
	}
}

// SeatReleasedHandler invalidates cached seat listings of the session a
// released seat belongs to.  A cache failure is returned so the broker
// redelivers.
func SeatReleasedHandler(cache SeatsInvalidator, log logrus.FieldLogger) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var ev queue.SeatReleasedEvent
		if err := msg.Decode(&ev); err != nil || ev.SessionID == "" {
			log.WithError(err).WithField("message_id", msg.ID).Warn("dropping malformed seat-released event")
			return nil
		}
		if err := cache.InvalidateSeats(ctx, ev.SessionID); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"seat_id": ev.SeatID, "session_id": ev.SessionID}).Info("seat released")
		return nil
	}
}
