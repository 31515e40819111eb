package model

import "time"

// Sale records a purchased seat.  Exactly one sale exists per confirmed
// reservation; ReservationID is unique in the sales table.
type Sale struct {
    ID            string    // sales.id
    ReservationID string    // sales.reservation_id
    UserID        string    // sales.user_id
    SessionID     string    // sales.session_id
    SeatID        string    // sales.seat_id
    CreatedAt     time.Time // sales.created_at
}

// Purchase is a sale joined with the session and seat it refers to.  It
// is the read model returned for a user's purchase history.
type Purchase struct {
    ID          string    `json:"id"`
    SessionID   string    `json:"sessionId"`
    MovieTitle  string    `json:"movieTitle"`
    Room        string    `json:"room"`
    StartsAt    time.Time `json:"dateTime"`
    SeatNumber  uint32    `json:"seatNumber"`
    PriceCents  uint32    `json:"priceCents"`
    PurchasedAt time.Time `json:"purchasedAt"`
}
