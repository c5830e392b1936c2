package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Channel carries job progress events.
	Channel string
	// KeyPrefix namespaces lock keys.
	KeyPrefix string
}

type Client struct {
	log       *logger.Logger
	rdb       *goredis.Client
	channel   string
	keyPrefix string
}

// New connects and pings. Callers treat an empty Addr as "redis disabled"
// and skip construction.
func New(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return wrap(log, rdb, cfg), nil
}

func wrap(log *logger.Logger, rdb *goredis.Client, cfg Config) *Client {
	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = "bookgen:jobs"
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "bookgen"
	}
	return &Client{log: log.With("service", "Redis"), rdb: rdb, channel: ch, keyPrefix: prefix}
}

// Raw exposes the underlying client for collectors.
func (c *Client) Raw() goredis.UniversalClient {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
