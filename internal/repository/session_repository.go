package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SessionRepo reads and writes the sessions table.
type SessionRepo struct {
    db *sql.DB
}

// NewSessionRepo returns a SessionRepo bound to db.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// CreateTx inserts a session.  The caller supplies the ID.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
    const q = `INSERT INTO sessions (id, movie_title, room, starts_at, price_cents, created_at) VALUES (?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q, s.ID, s.MovieTitle, s.Room, s.StartsAt.UTC(), s.PriceCents, s.CreatedAt.UTC())
    if isDuplicate(err) {
        return ErrDuplicate
    }
    return err
}

// GetByID returns the session or ErrNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (model.Session, error) {
    const q = `SELECT id, movie_title, room, starts_at, price_cents, created_at FROM sessions WHERE id = ?`
    var s model.Session
    err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.MovieTitle, &s.Room, &s.StartsAt, &s.PriceCents, &s.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Session{}, ErrNotFound
    }
    return s, err
}
