package model

// SeatStatus is the availability state of a seat.  The seat row is the
// single source of truth for availability and is only mutated inside a
// transaction that also mutates a reservation or a sale.
type SeatStatus string

const (
    SeatAvailable SeatStatus = "AVAILABLE"
    SeatReserved  SeatStatus = "RESERVED"
    SeatSold      SeatStatus = "SOLD"
)

// Seat represents one numbered seat of a session.
//
// Fields:
//  ID        – primary key identifier (UUID).
//  SessionID – session the seat belongs to.
//  Number    – seat number inside the session (1-based).
//  Status    – AVAILABLE, RESERVED or SOLD.
type Seat struct {
    ID        string     // seats.id
    SessionID string     // seats.session_id
    Number    uint32     // seats.number
    Status    SeatStatus // seats.status
}

// IsAvailable reports whether the seat can be reserved.
func (s *Seat) IsAvailable() bool {
    return s.Status == SeatAvailable
}
