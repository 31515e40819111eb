package config

// This file defines the Redis client constructor.  Redis backs the
// distributed seat locks, consumer de-duplication, rate limiting and the
// seat listing cache.

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach Redis.  Host and Port take precedence
// over Addr when both are set.
type RedisConfig struct {
    Host     string `envconfig:"HOST"`
    Port     string `envconfig:"PORT"`
    Addr     string `envconfig:"ADDR" default:"localhost:6379"`
    Password string `envconfig:"PASSWORD"`
    DB       int    `envconfig:"DB" default:"0"`
    TLS      bool   `envconfig:"TLS" default:"false"`
}

// Address resolves the host:port to dial.
func (rc RedisConfig) Address() string {
    if rc.Host != "" && rc.Port != "" {
        return rc.Host + ":" + rc.Port
    }
    if rc.Addr == "" {
        return "localhost:6379"
    }
    return rc.Addr
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  Unlike a cache-only deployment the lock manager needs Redis,
// so a failed ping is returned to the caller instead of being swallowed.
func NewRedisClient(rc RedisConfig) (*redis.Client, error) {
    var tlsConf *tls.Config
    if rc.TLS {
        tlsConf = &tls.Config{InsecureSkipVerify: true}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      rc.Address(),
        Password:  rc.Password,
        DB:        rc.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis ping %s: %w", rc.Address(), err)
    }
    return client, nil
}
