// Package redis wraps go-redis with the coordination primitives canon needs:
// a single-writer lock for the recompute job, a dead-letter stream for the
// consumer and a pub/sub channel that tells every instance to drop its
// alias-map snapshot.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// PoolSize of zero keeps the go-redis default.
	PoolSize int
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:        c.Addr(),
		Password:    c.Password,
		DB:          c.DB,
		PoolSize:    c.PoolSize,
		DialTimeout: connectTimeout,
	}
}

type Client struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// NewClient dials Redis and fails unless the first PING answers.
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options()), logger: logger}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr(), err)
	}

	logger.WithField("addr", cfg.Addr()).Info("Connected to Redis")
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Client) Close() error { return c.rdb.Close() }
