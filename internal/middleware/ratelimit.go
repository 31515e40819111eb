package middleware

import (
    "context"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/cinema-seat-hold/internal/config"
)

// takeToken refills the bucket for the elapsed whole intervals and takes
// one token.  Replies {allowed, remaining, wait_ms}.
//
// KEYS[1] bucket  ARGV: now_ms, capacity, refill, interval_ms, ttl_s
var takeToken = redis.NewScript(`
local now, cap, refill, every, ttl =
    tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local cur = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens, ts = tonumber(cur[1]), tonumber(cur[2])
if tokens == nil or ts == nil then
    tokens, ts = cap, now
end

local steps = 0
if every > 0 then
    steps = math.floor(math.max(0, now - ts) / every)
end
if steps > 0 then
    tokens = math.min(cap, tokens + steps * refill)
    ts = ts + steps * every
end

local ok, wait = 0, 0
if tokens > 0 then
    ok, tokens = 1, tokens - 1
else
    wait = math.max(0, every - (now - ts))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

type bucketReply struct {
    allowed   bool
    remaining int64
    wait      time.Duration
}

type tokenBucket struct {
    cfg config.RateLimitConfig
    rdb redis.Cmdable
    log logrus.FieldLogger
}

func (tb *tokenBucket) take(ctx context.Context, key string, now time.Time) (bucketReply, error) {
    vals, err := takeToken.Run(ctx, tb.rdb, []string{key},
        now.UnixMilli(),
        tb.cfg.Capacity,
        tb.cfg.RefillTokens,
        tb.cfg.RefillInterval.Milliseconds(),
        int64(tb.cfg.TTL/time.Second),
    ).Int64Slice()
    if err != nil {
        return bucketReply{}, err
    }
    if len(vals) != 3 {
        return bucketReply{}, fmt.Errorf("ratelimit: unexpected reply %v", vals)
    }
    return bucketReply{
        allowed:   vals[0] == 1,
        remaining: vals[1],
        wait:      time.Duration(vals[2]) * time.Millisecond,
    }, nil
}

// NewTokenBucket limits requests per key (see KeyStrategy) with a token
// bucket kept in Redis, so the limit holds across instances.  Redis errors
// let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.Cmdable, log logrus.FieldLogger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    tb := &tokenBucket{cfg: cfg, rdb: rdb, log: log}

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg, c)
            reply, err := tb.take(c.Request().Context(), key, time.Now())
            if err != nil {
                tb.log.WithError(err).WithField("key", key).Warn("ratelimit: redis unavailable, allowing request")
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if reply.allowed {
                return next(c)
            }

            secs := int((reply.wait + time.Second - 1) / time.Second)
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                tb.log.WithFields(logrus.Fields{"key": key, "wait": reply.wait}).Info("ratelimit: blocked")
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":      "rate limit exceeded",
                "code":       "RATE_LIMITED",
                "retryAfter": secs,
            })
        }
    }
}

// rateKey composes prefix:dim:value... from the dimensions the strategy
// names.  Unknown strategies key on all three.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
    dims := map[string][]string{
        "ip":         {"ip"},
        "user":       {"user"},
        "route":      {"route"},
        "ip_user":    {"ip", "user"},
        "ip_route":   {"ip", "route"},
        "user_route": {"user", "route"},
    }[strings.ToLower(cfg.KeyStrategy)]
    if dims == nil {
        dims = []string{"ip", "user", "route"}
    }

    parts := []string{cfg.Prefix}
    for _, d := range dims {
        var v string
        switch d {
        case "ip":
            if v = c.RealIP(); v == "" {
                v = "unknown"
            }
        case "user":
            v = currentUserID(c)
        case "route":
            v = c.Request().Method + " " + c.Path()
        }
        parts = append(parts, d, v)
    }
    return strings.Join(parts, ":")
}
