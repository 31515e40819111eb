package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-hold/internal/lock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// memStore is an in-memory Store.  A transaction holds the store mutex
// for its whole duration, which is stricter than row locks and enough to
// exercise the state machine.  Failed transactions are rolled back from a
// snapshot.
type memStore struct {
	mu           sync.Mutex
	sessions     map[string]model.Session
	seats        map[string]model.Seat
	reservations map[string]model.Reservation
	sales        map[string]model.Sale
	txErr        error // returned by the next WithinTx when set
}

func newMemStore() *memStore {
	return &memStore{
		sessions:     map[string]model.Session{},
		seats:        map[string]model.Seat{},
		reservations: map[string]model.Reservation{},
		sales:        map[string]model.Sale{},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		err := m.txErr
		m.txErr = nil
		return err
	}

	sessions, seats, reservations, sales := cloneMap(m.sessions), cloneMap(m.seats), cloneMap(m.reservations), cloneMap(m.sales)
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.sessions, m.seats, m.reservations, m.sales = sessions, seats, reservations, sales
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memStore) ListSeats(_ context.Context, sessionID string) ([]model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Seat, 0)
	for n := uint32(1); ; n++ {
		found := false
		for _, s := range m.seats {
			if s.SessionID == sessionID && s.Number == n {
				out = append(out, s)
				found = true
			}
		}
		if !found {
			return out, nil
		}
	}
}

func (m *memStore) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListPurchases(_ context.Context, userID string) ([]model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Purchase{}
	for _, sale := range m.sales {
		if sale.UserID != userID {
			continue
		}
		sess := m.sessions[sale.SessionID]
		out = append(out, model.Purchase{
			ID:          sale.ID,
			SessionID:   sale.SessionID,
			MovieTitle:  sess.MovieTitle,
			Room:        sess.Room,
			StartsAt:    sess.StartsAt,
			SeatNumber:  m.seats[sale.SeatID].Number,
			PriceCents:  sess.PriceCents,
			PurchasedAt: sale.CreatedAt,
		})
	}
	return out, nil
}

func (m *memStore) seat(id string) model.Seat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[id]
}

func (m *memStore) saleCount(reservationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sales {
		if s.ReservationID == reservationID {
			n++
		}
	}
	return n
}

// memTx runs with memStore.mu held.
type memTx struct{ m *memStore }

func (t *memTx) CreateSession(_ context.Context, s *model.Session) error {
	t.m.sessions[s.ID] = *s
	return nil
}

func (t *memTx) CreateSeats(_ context.Context, seats []model.Seat) error {
	for _, s := range seats {
		t.m.seats[s.ID] = s
	}
	return nil
}

func (t *memTx) GetSeatForUpdate(_ context.Context, id string) (model.Seat, error) {
	s, ok := t.m.seats[id]
	if !ok {
		return model.Seat{}, repository.ErrNotFound
	}
	return s, nil
}

func (t *memTx) UpdateSeatStatus(_ context.Context, id string, status model.SeatStatus) error {
	s, ok := t.m.seats[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	t.m.seats[id] = s
	return nil
}

func (t *memTx) CreateReservation(_ context.Context, r *model.Reservation) error {
	t.m.reservations[r.ID] = *r
	return nil
}

func (t *memTx) GetReservationForUpdate(_ context.Context, id string) (model.Reservation, error) {
	r, ok := t.m.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrNotFound
	}
	return r, nil
}

func (t *memTx) UpdateReservationStatus(_ context.Context, id string, status model.ReservationStatus) error {
	r, ok := t.m.reservations[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	t.m.reservations[id] = r
	return nil
}

func (t *memTx) ListExpiredPendingForUpdate(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range t.m.reservations {
		if r.Status == model.ReservationPending && !r.ExpiresAt.After(now) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (t *memTx) SaleExists(_ context.Context, reservationID string) (bool, error) {
	for _, s := range t.m.sales {
		if s.ReservationID == reservationID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateSale(_ context.Context, s *model.Sale) error {
	for _, existing := range t.m.sales {
		if existing.ReservationID == s.ReservationID {
			return repository.ErrDuplicate
		}
	}
	t.m.sales[s.ID] = *s
	return nil
}

type published struct {
	topic       string
	payload     interface{}
	ctxErr      error
	hasDeadline bool
}

// recordingPublisher keeps every event it is asked to publish.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	_, hasDeadline := ctx.Deadline()
	p.events = append(p.events, published{topic: topic, payload: payload, ctxErr: ctx.Err(), hasDeadline: hasDeadline})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return lock.NewRedisLocker(rdb, nil), mr
}
