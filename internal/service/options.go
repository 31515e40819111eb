package service

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-hold/internal/lock"
)

// DefaultHoldWindow is how long a PENDING reservation keeps its seat.
const DefaultHoldWindow = 30 * time.Second

type options struct {
	now     func() time.Time
	hold    time.Duration
	lockOpt lock.Options
	log     logrus.FieldLogger
}

// Option customizes a service.
type Option func(*options)

// WithClock replaces time.Now.  Tests use it to step past the hold window.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithHoldWindow sets the reservation hold window.
func WithHoldWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.hold = d
		}
	}
}

// WithLockOptions sets TTL and retry policy of the per-seat lock.
func WithLockOptions(opt lock.Options) Option { return func(o *options) { o.lockOpt = opt } }

// WithLogger injects the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	discard := logrus.New()
	discard.Out = io.Discard
	o := options{
		now:     time.Now,
		hold:    DefaultHoldWindow,
		lockOpt: lock.DefaultOptions(),
		log:     discard,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
