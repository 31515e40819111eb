package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"

    "github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SeatRepo provides access to the seats table.  Seat status is the source
// of truth for availability; every transition happens inside a
// transaction that holds the row lock.
type SeatRepo struct {
    db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// CreateBulkTx inserts all seats of a session in a single statement.
// Passing an empty slice is a no-op.
func (r *SeatRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, seats []model.Seat) error {
    if len(seats) == 0 {
        return nil
    }
    var b strings.Builder
    b.WriteString(`INSERT INTO seats (id, session_id, number, status) VALUES `)
    args := make([]interface{}, 0, len(seats)*4)
    for i, s := range seats {
        if i > 0 {
            b.WriteString(",")
        }
        b.WriteString("(?, ?, ?, ?)")
        args = append(args, s.ID, s.SessionID, s.Number, string(s.Status))
    }
    _, err := tx.ExecContext(ctx, b.String(), args...)
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

// GetForUpdateTx loads a seat and locks its row until the transaction ends.
func (r *SeatRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Seat, error) {
    const q = `SELECT id, session_id, number, status FROM seats WHERE id = ? FOR UPDATE`
    var s model.Seat
    var status string
    err := tx.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.SessionID, &s.Number, &status)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Seat{}, ErrNotFound
    }
    if err != nil {
        return model.Seat{}, err
    }
    s.Status = model.SeatStatus(status)
    return s, nil
}

// UpdateStatusTx sets the seat status.  It returns ErrNotFound when the
// seat does not exist.
func (r *SeatRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.SeatStatus) error {
    res, err := tx.ExecContext(ctx, `UPDATE seats SET status = ? WHERE id = ?`, string(status), id)
    if err != nil {
        return err
    }
    return requireAffected(res)
}

// ListBySession returns every seat of a session ordered by number.
func (r *SeatRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Seat, error) {
    const q = `SELECT id, session_id, number, status FROM seats WHERE session_id = ? ORDER BY number`
    rows, err := r.db.QueryContext(ctx, q, sessionID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    seats := []model.Seat{}
    for rows.Next() {
        var s model.Seat
        var status string
        if err := rows.Scan(&s.ID, &s.SessionID, &s.Number, &status); err != nil {
            return nil, err
        }
        s.Status = model.SeatStatus(status)
        seats = append(seats, s)
    }
    return seats, rows.Err()
}

// requireAffected maps "0 rows affected" to ErrNotFound.  The DSN enables
// clientFoundRows so an update that leaves the row unchanged still counts.
func requireAffected(res sql.Result) error {
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrNotFound
    }
    return nil
}
