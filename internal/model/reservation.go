package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.  A reservation
// starts PENDING and moves exactly once to CONFIRMED or EXPIRED; both are
// terminal.
type ReservationStatus string

const (
    ReservationPending   ReservationStatus = "PENDING"
    ReservationConfirmed ReservationStatus = "CONFIRMED"
    ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation is a time-limited hold of a single seat by a user.  At most
// one PENDING reservation exists per seat; the seat's RESERVED status is
// the gate that enforces it.
//
// Fields:
//  ID        – primary key identifier (UUID).
//  UserID    – user holding the seat.
//  SessionID – session of the held seat.
//  SeatID    – held seat.
//  Status    – PENDING, CONFIRMED or EXPIRED.
//  ExpiresAt – hold deadline; a PENDING reservation past it can no longer be confirmed.
//  CreatedAt – creation timestamp.
type Reservation struct {
    ID        string            // reservations.id
    UserID    string            // reservations.user_id
    SessionID string            // reservations.session_id
    SeatID    string            // reservations.seat_id
    Status    ReservationStatus // reservations.status
    ExpiresAt time.Time         // reservations.expires_at
    CreatedAt time.Time         // reservations.created_at
}

// IsExpired reports whether the hold deadline has passed at now.
func (r *Reservation) IsExpired(now time.Time) bool {
    return r.ExpiresAt.Before(now)
}
