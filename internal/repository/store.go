package repository

import (
    "context"
    "database/sql"
    "fmt"
    "time"

    "github.com/iliyamo/cinema-seat-hold/internal/model"
)

// Tx is the set of operations available inside a single database
// transaction.  Every reservation state transition goes through a Tx so
// the seat row and the reservation row change together or not at all.
type Tx interface {
    CreateSession(ctx context.Context, s *model.Session) error
    CreateSeats(ctx context.Context, seats []model.Seat) error
    GetSeatForUpdate(ctx context.Context, seatID string) (model.Seat, error)
    UpdateSeatStatus(ctx context.Context, seatID string, status model.SeatStatus) error
    CreateReservation(ctx context.Context, res *model.Reservation) error
    GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error)
    UpdateReservationStatus(ctx context.Context, id string, status model.ReservationStatus) error
    ListExpiredPendingForUpdate(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
    SaleExists(ctx context.Context, reservationID string) (bool, error)
    CreateSale(ctx context.Context, s *model.Sale) error
}

// Store groups the repositories behind a single *sql.DB and runs
// transactional units of work.
type Store struct {
    db           *sql.DB
    Sessions     *SessionRepo
    Seats        *SeatRepo
    Reservations *ReservationRepo
    Sales        *SaleRepo
}

// NewStore wires every repository to db.
func NewStore(db *sql.DB) *Store {
    return &Store{
        db:           db,
        Sessions:     NewSessionRepo(db),
        Seats:        NewSeatRepo(db),
        Reservations: NewReservationRepo(db),
        Sales:        NewSaleRepo(db),
    }
}

// WithinTx runs fn inside a transaction.  The transaction commits when fn
// returns nil and rolls back otherwise, including on panic.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
    sqlTx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("begin tx: %w", err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = sqlTx.Rollback()
        }
    }()

    if err = fn(ctx, &txStore{s: s, tx: sqlTx}); err != nil {
        return err
    }
    if err = sqlTx.Commit(); err != nil {
        return fmt.Errorf("commit tx: %w", err)
    }
    committed = true
    return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
    return s.Sessions.GetByID(ctx, id)
}

// ListSeats returns the seats of a session ordered by number.
func (s *Store) ListSeats(ctx context.Context, sessionID string) ([]model.Seat, error) {
    return s.Seats.ListBySession(ctx, sessionID)
}

// GetReservation returns a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
    return s.Reservations.GetByID(ctx, id)
}

// ListPurchases returns the user's purchase history.
func (s *Store) ListPurchases(ctx context.Context, userID string) ([]model.Purchase, error) {
    return s.Sales.ListByUser(ctx, userID)
}

// txStore binds the repositories to one *sql.Tx.
type txStore struct {
    s  *Store
    tx *sql.Tx
}

func (t *txStore) CreateSession(ctx context.Context, s *model.Session) error {
    return t.s.Sessions.CreateTx(ctx, t.tx, s)
}

func (t *txStore) CreateSeats(ctx context.Context, seats []model.Seat) error {
    return t.s.Seats.CreateBulkTx(ctx, t.tx, seats)
}

func (t *txStore) GetSeatForUpdate(ctx context.Context, seatID string) (model.Seat, error) {
    return t.s.Seats.GetForUpdateTx(ctx, t.tx, seatID)
}

func (t *txStore) UpdateSeatStatus(ctx context.Context, seatID string, status model.SeatStatus) error {
    return t.s.Seats.UpdateStatusTx(ctx, t.tx, seatID, status)
}

func (t *txStore) CreateReservation(ctx context.Context, res *model.Reservation) error {
    return t.s.Reservations.CreateTx(ctx, t.tx, res)
}

func (t *txStore) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
    return t.s.Reservations.GetForUpdateTx(ctx, t.tx, id)
}

func (t *txStore) UpdateReservationStatus(ctx context.Context, id string, status model.ReservationStatus) error {
    return t.s.Reservations.UpdateStatusTx(ctx, t.tx, id, status)
}

func (t *txStore) ListExpiredPendingForUpdate(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
    return t.s.Reservations.ListExpiredPendingForUpdateTx(ctx, t.tx, now, limit)
}

func (t *txStore) SaleExists(ctx context.Context, reservationID string) (bool, error) {
    return t.s.Sales.ExistsForReservationTx(ctx, t.tx, reservationID)
}

func (t *txStore) CreateSale(ctx context.Context, s *model.Sale) error {
    return t.s.Sales.CreateTx(ctx, t.tx, s)
}
