// Package worker hosts the background tasks of the service: the periodic
// expiration sweep and the event consumers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Expirer expires overdue reservations.  *service.ReservationService
// implements it.
type Expirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// ExpirationSweeper periodically expires PENDING reservations whose hold
// window has passed.  The ticker is authoritative; Schedule adds an early
// sweep for a specific reservation, which may be lost without harm.
type ExpirationSweeper struct {
	exp      Expirer
	interval time.Duration
	batch    int
	log      logrus.FieldLogger

	trigger chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewExpirationSweeper returns a sweeper running every interval and
// expiring at most batch reservations per transaction.
func NewExpirationSweeper(exp Expirer, interval time.Duration, batch int, log logrus.FieldLogger) *ExpirationSweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &ExpirationSweeper{
		exp:      exp,
		interval: interval,
		batch:    batch,
		log:      log.WithField("component", "sweeper"),
		trigger:  make(chan struct{}, 1),
		timers:   map[string]*time.Timer{},
	}
}

// Run sweeps on every tick and on every early trigger until ctx is done.
func (s *ExpirationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Stop()

	s.log.WithField("interval", s.interval).Info("expiration sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiration sweeper stopped")
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("sweep failed")
		}
	}
}

// Sweep expires every overdue reservation, one batch per transaction, and
// returns how many it expired.
func (s *ExpirationSweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.exp.ExpireDue(ctx, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.log.WithField("expired", total).Info("expired reservations released")
	}
	return total, nil
}

// Schedule requests an extra sweep delay from now on behalf of
// reservationID.  Repeated calls for the same reservation are ignored
// while a timer is pending.
func (s *ExpirationSweeper) Schedule(reservationID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[reservationID]; ok {
		return
	}
	s.timers[reservationID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, reservationID)
		s.mu.Unlock()
		select {
		case s.trigger <- struct{}{}:
		default: // a sweep is already queued
		}
	})
}

// Scheduled returns how many early sweeps are pending.
func (s *ExpirationSweeper) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels pending early sweeps.  Run calls it on exit.
func (s *ExpirationSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
