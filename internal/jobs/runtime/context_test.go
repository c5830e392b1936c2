package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/data/repos"
	"github.com/yungbote/bookgen-worker/internal/data/repos/testutil"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/redisx"
)

type memBus struct {
	mu     sync.Mutex
	events []redisx.JobEvent
}

func (b *memBus) Publish(ctx context.Context, ev redisx.JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *memBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}

func setup(t *testing.T) (*Context, repos.Set, *memBus) {
	t.Helper()
	db := testutil.DB(t)
	rs := repos.New(db, testutil.Logger(t))
	job := testutil.SeedJob(t, context.Background(), db, "bk-1", 2, `{"canonical_key":"books/bk-1/canonical.json"}`)
	bus := &memBus{}
	jc := NewContext(context.Background(), testutil.Logger(t), job, Deps{Jobs: rs.JobRuns, Events: rs.JobEvents, Bus: bus})
	return jc, rs, bus
}

func TestProgressIsMonotonicAndRecorded(t *testing.T) {
	jc, rs, bus := setup(t)
	jc.Progress("rewrite", 40, "rewriting")
	jc.Progress("rewrite", 20, "still rewriting")
	jc.Progress("render", 250, "")

	got, err := rs.JobRuns.GetByID(dbctx.Context{Ctx: context.Background()}, jc.Job.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Progress != 100 || got.Stage != "render" {
		t.Fatalf("row: stage=%q progress=%d", got.Stage, got.Progress)
	}
	if jc.Job.Progress != 100 {
		t.Fatalf("in-memory progress: want=100 got=%d", jc.Job.Progress)
	}
	evs, _ := rs.JobEvents.ListByJob(dbctx.Context{Ctx: context.Background()}, jc.Job.ID)
	if len(evs) != 3 || evs[1].Progress != 40 {
		t.Fatalf("ledger: %+v", evs)
	}
	if len(bus.kinds()) != 3 || bus.events[0].Scope != "chapter:2" {
		t.Fatalf("bus: %+v", bus.events)
	}
}

func TestSucceedIsTerminalOnce(t *testing.T) {
	jc, rs, bus := setup(t)
	if !jc.Succeed("upload", map[string]any{"pdf": "book.pdf"}) {
		t.Fatalf("first Succeed must report")
	}
	if jc.Fail("late", errors.New("boom")) {
		t.Fatalf("Fail after Succeed must be a no-op")
	}
	jc.Progress("late", 10, "ignored")

	got, _ := rs.JobRuns.GetByID(dbctx.Context{Ctx: context.Background()}, jc.Job.ID)
	if got.Status != jobs.StatusDone || got.Progress != 100 || got.FinishedAt == nil {
		t.Fatalf("row: %+v", got)
	}
	var res map[string]string
	if err := json.Unmarshal(got.Result, &res); err != nil || res["pdf"] != "book.pdf" {
		t.Fatalf("result: %s (%v)", got.Result, err)
	}
	if k := bus.kinds(); len(k) != 1 || k[0] != string(jobs.JobEventDone) {
		t.Fatalf("bus kinds: %v", k)
	}
}

func TestFailRecordsKindAndStage(t *testing.T) {
	jc, rs, _ := setup(t)
	err := joberr.Asset("render", "missing assets: a.png")
	if !jc.Fail("run", err) {
		t.Fatalf("Fail must report")
	}
	got, _ := rs.JobRuns.GetByID(dbctx.Context{Ctx: context.Background()}, jc.Job.ID)
	if got.Status != jobs.StatusFailed || got.Stage != "render" {
		t.Fatalf("row: status=%q stage=%q", got.Status, got.Stage)
	}
	var res FailureResult
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Kind != string(joberr.KindAsset) || res.Error != "render: missing assets: a.png" {
		t.Fatalf("failure result: %+v", res)
	}
}

func TestTerminalRowIsNeverOverwritten(t *testing.T) {
	jc, rs, bus := setup(t)
	ok, err := rs.JobRuns.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: context.Background()}, jc.Job.ID, nil, map[string]interface{}{
		"status": jobs.StatusFailed, "stage": "lease_expired",
	})
	if err != nil || !ok {
		t.Fatalf("sweep: ok=%v err=%v", ok, err)
	}
	if jc.Succeed("upload", nil) {
		t.Fatalf("Succeed must not overwrite a swept row")
	}
	got, _ := rs.JobRuns.GetByID(dbctx.Context{Ctx: context.Background()}, jc.Job.ID)
	if got.Status != jobs.StatusFailed || got.Stage != "lease_expired" {
		t.Fatalf("row overwritten: %+v", got)
	}
	if len(bus.kinds()) != 0 {
		t.Fatalf("no events expected, got %v", bus.kinds())
	}
}

func TestPayloadDecodeErrorIsInput(t *testing.T) {
	jc, _, _ := setup(t)
	jc.Job.Payload = []byte(`{"mode":"draft","canonical_key":"k"}`)
	if _, err := jc.Payload(); joberr.KindOf(err) != joberr.KindInput {
		t.Fatalf("kind: want=%q got=%q", joberr.KindInput, joberr.KindOf(err))
	}
}

type nopHandler struct{ typ string }

func (h nopHandler) Type() string          { return h.typ }
func (h nopHandler) Run(ctx *Context) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nopHandler{typ: "book_render"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(nopHandler{typ: "book_render"}); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if err := r.Register(nopHandler{}); err == nil {
		t.Fatalf("empty type must fail")
	}
	if _, ok := r.Get("book_render"); !ok {
		t.Fatalf("Get: missing handler")
	}
	if ts := r.Types(); len(ts) != 1 || ts[0] != "book_render" {
		t.Fatalf("Types: %v", ts)
	}
}
