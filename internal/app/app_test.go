package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

var appSeq int64

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig(NewViper(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.DB.Driver = "sqlite"
	cfg.DB.DSN = fmt.Sprintf("file:apptest%d?mode=memory&cache=shared", atomic.AddInt64(&appSeq, 1))
	cfg.DB.MaxOpenConns = 1
	cfg.Storage.Mode = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Worker.WorkRoot = t.TempDir()
	cfg.Metrics.CollectInterval = 0
	return cfg
}

func TestNewWiresBookRender(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""

	a, err := New(context.Background(), cfg, Options{Version: "test", Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)

	if got := a.Registry.Types(); len(got) != 1 || got[0] != "book_render" {
		t.Fatalf("job types: got=%v", got)
	}
	if a.Server != nil {
		t.Fatalf("server should be disabled without an address")
	}
	if a.Redis != nil || a.RuntimeDeps().Bus != nil {
		t.Fatalf("redis should be disabled without an address")
	}
	if names := a.Providers.Names(); len(names) != 0 {
		t.Fatalf("providers: want none got=%v", names)
	}
}

func TestNewServesStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, Options{Version: "v-test", Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	if a.Server == nil {
		t.Fatalf("server not wired")
	}

	for path, want := range map[string]string{
		"/healthz": "ok",
		"/readyz":  `"db":"ok"`,
		"/status":  `"version":"v-test"`,
	} {
		rec := httptest.NewRecorder()
		a.Server.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: code=%d body=%s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestNewRejectsBadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Mode = "s3"
	if _, err := New(context.Background(), cfg, Options{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected storage error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""
	a, err := New(context.Background(), cfg, Options{Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
