package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/cinema-seat-hold/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }
func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size < cw.limit {
        remain := cw.limit - cw.size
        if cw.limit <= 0 {
            cw.buf.Write(b)
        } else if remain > 0 {
            if int64(len(b)) <= remain {
                cw.buf.Write(b)
            } else {
                cw.buf.Write(b[:remain])
            }
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// ResponseCache caches successful GET responses in Redis and drops them
// when the underlying seats change.
type ResponseCache struct {
    cfg config.CacheConfig
    rdb redis.Cmdable
    log logrus.FieldLogger
}

// NewResponseCache returns a cache.  With caching disabled or no Redis
// client the middleware passes through and invalidation is a no-op.
func NewResponseCache(cfg config.CacheConfig, rdb redis.Cmdable, log logrus.FieldLogger) *ResponseCache {
    if cfg.TTL <= 0 {
        cfg.TTL = 2 * time.Second
    }
    if cfg.Prefix == "" {
        cfg.Prefix = "cache"
    }
    return &ResponseCache{cfg: cfg, rdb: rdb, log: log}
}

func (rc *ResponseCache) enabled() bool { return rc.cfg.Enabled && rc.rdb != nil }

// pathKey is the key prefix shared by every cached variant of path.
func (rc *ResponseCache) pathKey(path string) string {
    return rc.cfg.Prefix + ":GET:" + path
}

// keyFor builds the cache key from the concrete request path.  The query
// string, when present, is hashed into a suffix.
func (rc *ResponseCache) keyFor(r *http.Request) string {
    key := rc.pathKey(r.URL.Path)
    if q := r.URL.RawQuery; q != "" {
        sum := sha1.Sum([]byte(q))
        key += fmt.Sprintf(":%x", sum[:8])
    }
    return key
}

// SeatsPath is the request path of a session's seat listing.
func SeatsPath(sessionID string) string { return "/v1/sessions/" + sessionID + "/seats" }

// InvalidateSeats deletes every cached seat listing of sessionID.
func (rc *ResponseCache) InvalidateSeats(ctx context.Context, sessionID string) error {
    if !rc.enabled() {
        return nil
    }
    base := rc.pathKey(SeatsPath(sessionID))
    keys := []string{base}
    iter := rc.rdb.Scan(ctx, 0, base+":*", 100).Iterator()
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
    }
    if err := iter.Err(); err != nil {
        return err
    }
    return rc.rdb.Del(ctx, keys...).Err()
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    total := 4 + 4 + len(hdrJSON) + len(body)
    out := make([]byte, total)
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    var hdr http.Header
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
            return 0, nil, nil, false
        }
    } else {
        hdr = make(http.Header)
    }
    body = bs[8+hlen:]
    return status, hdr, body, true
}

// Middleware serves cached GET responses and stores 200 responses that fit
// in MaxBodyBytes.  Headers are stored with the body so a hit is byte-for-byte
// identical to the original response.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
    if !rc.enabled() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    maxBody := int64(rc.cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if c.Request().Method != http.MethodGet {
                return next(c)
            }

            ctx := c.Request().Context()
            key := rc.keyFor(c.Request())

            if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        // Echo sets Content-Length itself
                        if strings.EqualFold(k, "Content-Length") {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    if len(body) > 0 {
                        _, _ = c.Response().Write(body)
                    }
                    return nil
                }
            } else if err != redis.Nil {
                rc.log.WithError(err).Debug("cache read failed")
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }

            // truncated bodies are never stored
            if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
                return nil
            }
            hdr := make(http.Header, len(c.Response().Header()))
            for k, vals := range c.Response().Header() {
                if k == "X-Cache" {
                    continue
                }
                vv := make([]string, len(vals))
                copy(vv, vals)
                hdr[k] = vv
            }
            if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
                if err := rc.rdb.Set(context.WithoutCancel(ctx), key, payload, rc.cfg.TTL).Err(); err != nil {
                    rc.log.WithError(err).Debug("cache write failed")
                }
            }
            return nil
        }
    }
}
