package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/lock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
)

type fixture struct {
	store   *memStore
	pub     *recordingPublisher
	clock   *clock
	svc     *ReservationService
	locker  *lock.RedisLocker
	session model.Session
	seatIDs []string
}

func newFixture(t *testing.T, seats int) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		pub:   &recordingPublisher{},
		clock: &clock{now: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)},
	}
	f.locker, _ = newRedisLocker(t)
	f.svc = NewReservationService(f.store, f.locker, f.pub,
		WithClock(f.clock.Now),
		WithHoldWindow(30*time.Second),
		WithLockOptions(lock.Options{TTL: 5 * time.Second, RetryDelay: time.Millisecond, MaxRetries: 1}),
	)

	f.session = model.Session{ID: uuid.NewString(), MovieTitle: "Alien", Room: "Sala 1", StartsAt: f.clock.Now().Add(2 * time.Hour), PriceCents: 2500}
	f.store.sessions[f.session.ID] = f.session
	for i := 1; i <= seats; i++ {
		id := uuid.NewString()
		f.store.seats[id] = model.Seat{ID: id, SessionID: f.session.ID, Number: uint32(i), Status: model.SeatAvailable}
		f.seatIDs = append(f.seatIDs, id)
	}
	return f
}

func (f *fixture) input(seat string) CreateReservationInput {
	return CreateReservationInput{UserID: uuid.NewString(), SessionID: f.session.ID, SeatID: seat}
}

func assertCode(t *testing.T, err error, kind error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, code, se.Code)
}

func TestCreateReservesSeat(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]

	res, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, res.Status)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), res.ExpiresAt)
	assert.Equal(t, model.SeatReserved, f.store.seat(seat).Status)

	require.Equal(t, []string{queue.TopicReservationCreated}, f.pub.topics())
	ev := f.pub.events[0].payload.(queue.ReservationEvent)
	assert.Equal(t, res.ID, ev.ReservationID)
	assert.Equal(t, seat, ev.SeatID)

	// lock released: the seat can be locked again immediately
	_, err = f.locker.Acquire(context.Background(), lock.SeatKey(seat), lock.Options{TTL: time.Second})
	assert.NoError(t, err)
}

func TestCreateConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), f.input(seat))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, wins)

	pending := 0
	for _, r := range f.store.reservations {
		if r.Status == model.ReservationPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestCreateSeatUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]

	_, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.input(seat))
	assertCode(t, err, ErrConflict, CodeSeatNotAvailable)
}

func TestCreateSeatLocked(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]

	_, err := f.locker.Acquire(context.Background(), lock.SeatKey(seat), lock.Options{TTL: time.Minute})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.input(seat))
	assertCode(t, err, ErrConflict, CodeSeatLocked)
	assert.Equal(t, model.SeatAvailable, f.store.seat(seat).Status)
	assert.Empty(t, f.pub.topics())
}

func TestCreateSeatNotFound(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.Create(context.Background(), f.input(uuid.NewString()))
	assertCode(t, err, ErrNotFound, CodeSeatNotFound)

	in := f.input(f.seatIDs[0])
	in.SessionID = uuid.NewString()
	_, err = f.svc.Create(context.Background(), in)
	assertCode(t, err, ErrNotFound, CodeSeatNotFound)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.Create(context.Background(), CreateReservationInput{})
	assertCode(t, err, ErrInvalid, CodeInvalidArgument)

	in := f.input(f.seatIDs[0])
	in.UserID = "not-a-uuid"
	_, err = f.svc.Create(context.Background(), in)
	assertCode(t, err, ErrInvalid, CodeInvalidArgument)
}

func TestCreateReportsFirstInvalidFieldInOrder(t *testing.T) {
	f := newFixture(t, 1)

	for i := 0; i < 20; i++ {
		_, err := f.svc.Create(context.Background(), CreateReservationInput{
			UserID:    uuid.NewString(),
			SessionID: "bad-session",
			SeatID:    "bad-seat",
		})
		var se *Error
		require.True(t, errors.As(err, &se))
		require.Equal(t, "sessionId must be a UUID", se.Message)
	}

	_, err := f.svc.Create(context.Background(), CreateReservationInput{})
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "userId is required", se.Message)
}

func TestPublishOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.svc.publish(ctx, queue.TopicReservationConfirmed, queue.ReservationEvent{ReservationID: "r1"})

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	require.Len(t, f.pub.events, 1)
	assert.NoError(t, f.pub.events[0].ctxErr)
	assert.True(t, f.pub.events[0].hasDeadline)
}

func TestCreatePublishFailureKeepsReservation(t *testing.T) {
	f := newFixture(t, 1)
	f.pub.err = errors.New("broker down")

	res, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	require.NoError(t, err)
	got, err := f.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, got.Status)
}

func TestCreateStoreFailureIsTransient(t *testing.T) {
	f := newFixture(t, 1)
	f.store.txErr = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	assertCode(t, err, ErrTransient, CodeInternal)
	assert.Empty(t, f.pub.topics())
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]
	res, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)

	first, err := f.svc.Confirm(context.Background(), res.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)
	assert.Equal(t, model.ReservationConfirmed, first.Reservation.Status)

	second, err := f.svc.Confirm(context.Background(), res.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, model.ReservationConfirmed, second.Reservation.Status)

	assert.Equal(t, 1, f.store.saleCount(res.ID))
	assert.Equal(t, model.SeatSold, f.store.seat(seat).Status)
	assert.Equal(t, []string{queue.TopicReservationCreated, queue.TopicReservationConfirmed}, f.pub.topics())
}

func TestConfirmConcurrentCreatesOneSale(t *testing.T) {
	f := newFixture(t, 1)
	res, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), res.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.store.saleCount(res.ID))
}

func TestConfirmAfterDeadlineBeforeSweep(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]
	res, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second)

	_, err = f.svc.Confirm(context.Background(), res.ID)
	assertCode(t, err, ErrInvalid, CodeReservationExpired)
	assert.Equal(t, 0, f.store.saleCount(res.ID))
	assert.Equal(t, model.SeatReserved, f.store.seat(seat).Status)
}

func TestConfirmAtDeadlineSucceeds(t *testing.T) {
	f := newFixture(t, 1)
	res, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	_, err = f.svc.Confirm(context.Background(), res.ID)
	assert.NoError(t, err)
}

func TestConfirmNotFound(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Confirm(context.Background(), uuid.NewString())
	assertCode(t, err, ErrNotFound, CodeReservationNotFound)
}

func TestConfirmAfterSweepConflicts(t *testing.T) {
	f := newFixture(t, 1)
	res, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	n, err := f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.Confirm(context.Background(), res.ID)
	assertCode(t, err, ErrConflict, CodeReservationNotPending)
}

func TestExpireDueRunsOnce(t *testing.T) {
	f := newFixture(t, 2)
	expiring, err := f.svc.Create(context.Background(), f.input(f.seatIDs[0]))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	fresh, err := f.svc.Create(context.Background(), f.input(f.seatIDs[1]))
	require.NoError(t, err)

	f.clock.Advance(15 * time.Second)
	n, err := f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)
	assert.Equal(t, model.SeatAvailable, f.store.seat(f.seatIDs[0]).Status)

	got, err = f.svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, got.Status)

	n, err = f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, []string{
		queue.TopicReservationCreated,
		queue.TopicReservationCreated,
		queue.TopicReservationExpired,
		queue.TopicSeatReleased,
	}, f.pub.topics())
	released := f.pub.events[3].payload.(queue.SeatReleasedEvent)
	assert.Equal(t, f.session.ID, released.SessionID)
}

func TestExpireDueNoRows(t *testing.T) {
	f := newFixture(t, 1)
	n, err := f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pub.topics())
}

func TestSeatReusableAfterExpiry(t *testing.T) {
	f := newFixture(t, 1)
	seat := f.seatIDs[0]
	_, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)

	res, err := f.svc.Create(context.Background(), f.input(seat))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, res.Status)
}

func TestReservationLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	s1, s2 := f.seatIDs[0], f.seatIDs[1]

	held, err := f.svc.Create(ctx, f.input(s1))
	require.NoError(t, err)
	assert.Equal(t, model.SeatReserved, f.store.seat(s1).Status)

	_, err = f.svc.Create(ctx, f.input(s1))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Confirm(ctx, held.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatSold, f.store.seat(s1).Status)
	assert.Equal(t, 1, f.store.saleCount(held.ID))

	abandoned, err := f.svc.Create(ctx, f.input(s2))
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)
	n, err := f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)
	assert.Equal(t, model.SeatAvailable, f.store.seat(s2).Status)
	assert.Equal(t, model.SeatSold, f.store.seat(s1).Status)

	assert.Equal(t, []string{
		queue.TopicReservationCreated,
		queue.TopicReservationConfirmed,
		queue.TopicReservationCreated,
		queue.TopicReservationExpired,
		queue.TopicSeatReleased,
	}, f.pub.topics())
}

func TestGetReservationNotFound(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.Get(context.Background(), uuid.NewString())
	assertCode(t, err, ErrNotFound, CodeReservationNotFound)
}
