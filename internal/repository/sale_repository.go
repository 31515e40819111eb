package repository

import (
    "context"
    "database/sql"

    "github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SaleRepo provides access to the sales table.  A unique key on
// reservation_id guarantees at most one sale per reservation.
type SaleRepo struct {
    db *sql.DB
}

// NewSaleRepo returns a SaleRepo bound to db.
func NewSaleRepo(db *sql.DB) *SaleRepo { return &SaleRepo{db: db} }

// CreateTx inserts a sale.  A second sale for the same reservation
// returns ErrDuplicate.
func (r *SaleRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Sale) error {
    const q = `INSERT INTO sales (id, reservation_id, user_id, session_id, seat_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q, s.ID, s.ReservationID, s.UserID, s.SessionID, s.SeatID, s.CreatedAt.UTC())
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

// ExistsForReservationTx reports whether a sale was already recorded for
// the reservation.
func (r *SaleRepo) ExistsForReservationTx(ctx context.Context, tx *sql.Tx, reservationID string) (bool, error) {
    var n int
    err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE reservation_id = ?`, reservationID).Scan(&n)
    return n > 0, err
}

// ListByUser returns the user's purchases joined with session and seat
// details, newest first.
func (r *SaleRepo) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
    const q = `SELECT s.id, s.session_id, se.movie_title, se.room, se.starts_at, st.number, se.price_cents, s.created_at
               FROM sales s
               JOIN sessions se ON se.id = s.session_id
               JOIN seats st ON st.id = s.seat_id
               WHERE s.user_id = ?
               ORDER BY s.created_at DESC`
    rows, err := r.db.QueryContext(ctx, q, userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []model.Purchase{}
    for rows.Next() {
        var p model.Purchase
        if err := rows.Scan(&p.ID, &p.SessionID, &p.MovieTitle, &p.Room, &p.StartsAt, &p.SeatNumber, &p.PriceCents, &p.PurchasedAt); err != nil {
            return nil, err
        }
        out = append(out, p)
    }
    return out, rows.Err()
}
