package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/cinema-seat-hold/internal/model"
)

// ReservationRepo provides access to the reservations table.  All
// timestamps are stored in UTC with millisecond precision.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, user_id, session_id, seat_id, status, expires_at, created_at`

// CreateTx inserts a reservation within the caller's transaction.  The
// caller supplies the ID and is responsible for commit or rollback.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
    const q = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q,
        res.ID, res.UserID, res.SessionID, res.SeatID, string(res.Status),
        res.ExpiresAt.UTC(), res.CreatedAt.UTC(),
    )
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

// GetForUpdateTx loads a reservation and locks its row.  Concurrent
// confirmations and the expiration sweeper serialize on this lock.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
    return scanReservation(tx.QueryRowContext(ctx, q, id))
}

// UpdateStatusTx sets the reservation status.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.ReservationStatus) error {
    res, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, string(status), id)
    if err != nil {
        return err
    }
    return requireAffected(res)
}

// ListExpiredPendingForUpdateTx returns up to limit PENDING reservations
// whose expiry is at or before now, locking each row.  Rows already
// locked by an in-flight confirmation are skipped rather than waited on;
// the next sweep picks them up if they are still pending.
func (r *ReservationRepo) ListExpiredPendingForUpdateTx(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE status = 'PENDING' AND expires_at <= ?
               ORDER BY expires_at
               LIMIT ?
               FOR UPDATE SKIP LOCKED`
    rows, err := tx.QueryContext(ctx, q, now.UTC(), limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []model.Reservation
    for rows.Next() {
        res, err := scanReservation(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, res)
    }
    return out, rows.Err()
}

// GetByID returns a reservation without locking it.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
    return scanReservation(r.db.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (model.Reservation, error) {
    var res model.Reservation
    var status string
    err := row.Scan(&res.ID, &res.UserID, &res.SessionID, &res.SeatID, &status, &res.ExpiresAt, &res.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Reservation{}, ErrNotFound
    }
    if err != nil {
        return model.Reservation{}, err
    }
    res.Status = model.ReservationStatus(status)
    return res, nil
}
