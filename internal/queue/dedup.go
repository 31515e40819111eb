package queue

import (
    "context"
    "time"

    "github.com/redis/go-redis/v9"
)

// Deduper remembers processed message IDs in Redis so a redelivered
// message is handled once.
type Deduper struct {
    rdb redis.Cmdable
    ttl time.Duration
}

// NewDeduper returns a Deduper keeping IDs for ttl (default 24h).
func NewDeduper(rdb redis.Cmdable, ttl time.Duration) *Deduper {
    if ttl <= 0 {
        ttl = 24 * time.Hour
    }
    return &Deduper{rdb: rdb, ttl: ttl}
}

func dedupKey(msg Message) string { return "processed:" + msg.Topic + ":" + msg.ID }

// Seen reports whether msg was already handled successfully.
func (d *Deduper) Seen(ctx context.Context, msg Message) (bool, error) {
    n, err := d.rdb.Exists(ctx, dedupKey(msg)).Result()
    return n > 0, err
}

// Mark records msg as handled.
func (d *Deduper) Mark(ctx context.Context, msg Message) error {
    return d.rdb.Set(ctx, dedupKey(msg), 1, d.ttl).Err()
}

// Once wraps h so each message ID is handled successfully at most once
// per ttl.  The mark is written only after h succeeds, so a crash inside
// h leaves the redelivery to run it again.  Handlers must tolerate the
// rare concurrent duplicate this allows.
func (d *Deduper) Once(h Handler) Handler {
    return func(ctx context.Context, msg Message) error {
        seen, err := d.Seen(ctx, msg)
        if err != nil {
            return err
        }
        if seen {
            return nil
        }
        if err := h(ctx, msg); err != nil {
            return err
        }
        return d.Mark(ctx, msg)
    }
}
