// Package lock implements a Redis-backed distributed mutex used to
// serialize work on a single seat across service instances.
//
// A lock is a key holding a random token with a TTL.  Only the holder of
// the token can release it, so a caller whose lock already expired and
// was taken by someone else cannot delete the new holder's key.
package lock

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotAcquired is returned when the lock is still held by someone else
// after every retry, or when the lock store kept failing.
var ErrNotAcquired = errors.New("lock not acquired")

// maxBackoff caps the delay between acquisition attempts.
const maxBackoff = time.Second

// keyPrefix namespaces lock keys in Redis.
const keyPrefix = "lock:"

// SeatKey returns the lock key guarding a seat.
func SeatKey(seatID string) string { return "seat:" + seatID }

// Options controls a single acquisition.
type Options struct {
	TTL        time.Duration // how long the lock lives without a release
	RetryDelay time.Duration // first delay between attempts, doubled each time
	MaxRetries int           // attempts after the first one
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{TTL: 5 * time.Second, RetryDelay: 100 * time.Millisecond, MaxRetries: 3}
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker acquires and releases locks in Redis.
type RedisLocker struct {
	rdb redis.Cmdable
	log logrus.FieldLogger
}

// NewRedisLocker returns a locker using rdb.  A nil logger discards output.
func NewRedisLocker(rdb redis.Cmdable, log logrus.FieldLogger) *RedisLocker {
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	return &RedisLocker{rdb: rdb, log: log}
}

// Acquire tries to take key.  It makes at most 1+MaxRetries attempts,
// sleeping RetryDelay, 2*RetryDelay, ... (capped at one second) between
// them.  On success it returns the token needed for Release.  Redis errors
// are treated like a held lock: logged, retried and finally reported as
// ErrNotAcquired.  A cancelled context aborts the wait and returns ctx.Err().
func (l *RedisLocker) Acquire(ctx context.Context, key string, opt Options) (string, error) {
	if opt.TTL <= 0 {
		opt.TTL = DefaultOptions().TTL
	}
	if opt.MaxRetries < 0 {
		opt.MaxRetries = 0
	}
	token := uuid.NewString()
	delay := opt.RetryDelay

	for attempt := 0; ; attempt++ {
		ok, err := l.rdb.SetNX(ctx, keyPrefix+key, token, opt.TTL).Result()
		if err == nil && ok {
			return token, nil
		}
		if err != nil {
			l.log.WithError(err).WithField("lock_key", key).Warn("lock store error during acquire")
		}
		if attempt >= opt.MaxRetries {
			return "", ErrNotAcquired
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
}

// Release deletes key if it still holds token.  It reports whether the
// key was deleted; false means the lock had already expired or belongs to
// another holder.
func (l *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{keyPrefix + key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
