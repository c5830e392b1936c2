package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
)

var ErrLockTimeout = errors.New("lock wait timed out")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *Client) lockKey(name string) string {
	return c.keyPrefix + ":lock:" + name
}

// TryLock takes name with SETNX for ttl. ok is false when another holder owns
// it. release is safe to call more than once.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	key := c.lockKey(name)
	ok, err = c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	released := false
	release = func() {
		if released {
			return
		}
		released = true
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, c.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			c.log.Warn("lock release failed", "key", key, "error", err)
		}
	}
	return release, true, nil
}

// Lock polls TryLock until acquired or wait elapses.
func (c *Client) Lock(ctx context.Context, name string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	poll := 250 * time.Millisecond
	for {
		release, ok, err := c.TryLock(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: %w", name, ErrLockTimeout)
		}
		if err := httpx.Sleep(ctx, poll); err != nil {
			return nil, err
		}
	}
}
