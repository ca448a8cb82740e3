// Package redisstore keeps SLA trackers and the check-point queue in Redis.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultPrefix = "bizrules:"

// Options for connecting to Redis.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Client wraps the go-redis client with the key prefix used by every store.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Connect creates a client and pings the server. An unreachable server is logged, not
// fatal, so the process can start before Redis does.
func Connect(ctx context.Context, opts Options, logger zerolog.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", opts.Addr).Msg("unable to reach redis")
	} else {
		logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	}
	return NewClient(rdb, opts.Prefix)
}

// NewClient wraps an existing go-redis client.
func NewClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client not configured")
	}
	return c.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
