// Package redis connects devicehub to the Redis instance that holds
// shared rate-limit counters.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	dialTimeout        = 5 * time.Second
	ioTimeout          = 2 * time.Second
)

var (
	// ErrDisabled is returned by Connect when redis.enabled is false.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("redis: connection failed")
)

// Client wraps a go-redis client with a health check.
type Client struct {
	*goredis.Client
	addr string
}

// Connect creates a client for cfg and verifies it with a PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{Client: rdb, addr: cfg.Addr}, nil
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}
