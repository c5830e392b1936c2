package redisx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

// testClient connects to TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), logger.Nop(), Config{Addr: addr, KeyPrefix: "bookgen-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestTryLockExclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	release, ok, err := c.TryLock(ctx, "placements:bk:v1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.TryLock(ctx, "placements:bk:v1", time.Minute); err != nil || ok {
		t.Fatalf("second TryLock: want held, ok=%v err=%v", ok, err)
	}
	release()
	release()
	release2, ok, err := c.TryLock(ctx, "placements:bk:v1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("after release: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestLockTimesOut(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	release, ok, _ := c.TryLock(ctx, "busy", time.Minute)
	if !ok {
		t.Fatalf("setup lock not acquired")
	}
	defer release()
	if _, err := c.Lock(ctx, "busy", time.Minute, 300*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestPublishSubscribe(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan JobEvent, 1)
	if err := c.Subscribe(ctx, func(ev JobEvent) { got <- ev }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Publish(ctx, JobEvent{JobID: "j1", Kind: "progress", Progress: 40}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.JobID != "j1" || ev.Progress != 40 {
			t.Fatalf("event: got=%+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no event received")
	}
}
