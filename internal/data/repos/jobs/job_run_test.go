package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/bookgen-worker/internal/data/repos/testutil"
	types "github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
)

func TestJobRunRepoClaimOrderAndLease(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	now := time.Now().UTC()
	older := &types.JobRun{
		JobType: "book_render", BookID: "bk-1", Status: types.StatusQueued, Stage: "queued",
		Payload: datatypes.JSON([]byte(`{}`)), CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
	}
	newer := &types.JobRun{
		JobType: "book_render", BookID: "bk-2", Status: types.StatusQueued, Stage: "queued",
		Payload: datatypes.JSON([]byte(`{}`)), CreatedAt: now.Add(-1 * time.Hour), UpdatedAt: now.Add(-1 * time.Hour),
	}
	failed := &types.JobRun{
		JobType: "book_render", BookID: "bk-3", Status: types.StatusFailed, Stage: "failed",
		Payload: datatypes.JSON([]byte(`{}`)), CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour),
	}
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer, failed}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	opts := ClaimOptions{WorkerID: "w1", MaxAttempts: 3, LeaseTTL: time.Minute}
	first, err := repo.ClaimNext(dbc, opts)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if first == nil || first.ID != older.ID {
		t.Fatalf("ClaimNext: want=%v got=%v", older.ID, first)
	}
	if first.Status != types.StatusRunning || first.Attempts != 1 || first.WorkerID != "w1" {
		t.Fatalf("claimed row not leased: %+v", first)
	}

	second, err := repo.ClaimNext(dbc, opts)
	if err != nil || second == nil || second.ID != newer.ID {
		t.Fatalf("second claim: err=%v got=%v", err, second)
	}

	none, err := repo.ClaimNext(dbc, opts)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if none != nil {
		t.Fatalf("failed jobs are terminal, got claim of %v", none.ID)
	}
}

func TestJobRunRepoReclaimsExpiredLease(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	now := time.Now().UTC()
	stale := now.Add(-10 * time.Minute)
	job := &types.JobRun{
		JobType: "book_render", BookID: "bk-1", Status: types.StatusRunning, Stage: "rewrite",
		Attempts: 1, WorkerID: "dead", HeartbeatAt: &stale,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: stale,
	}
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.ClaimNext(dbc, ClaimOptions{WorkerID: "w2", MaxAttempts: 3, LeaseTTL: time.Minute})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != job.ID || got.WorkerID != "w2" || got.Attempts != 2 {
		t.Fatalf("reclaim: got=%+v", got)
	}

	if err := repo.Heartbeat(dbc, job.ID, "dead"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	row, err := repo.GetByID(dbc, job.ID)
	if err != nil || row == nil {
		t.Fatalf("GetByID: err=%v row=%v", err, row)
	}
	if row.WorkerID != "w2" {
		t.Fatalf("worker: want=w2 got=%s", row.WorkerID)
	}
}

func TestJobRunRepoTerminalGuard(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := &types.JobRun{JobType: "book_render", BookID: "bk-1"}
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	terminal := []string{types.StatusDone, types.StatusFailed}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, terminal, map[string]interface{}{"status": types.StatusDone})
	if err != nil || !ok {
		t.Fatalf("first terminal update: ok=%v err=%v", ok, err)
	}
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.ID, terminal, map[string]interface{}{"status": types.StatusFailed})
	if err != nil {
		t.Fatalf("second terminal update: %v", err)
	}
	if ok {
		t.Fatalf("second terminal update must be rejected")
	}
	if uuid.Nil == job.ID {
		t.Fatalf("BeforeCreate did not assign id")
	}
}

func TestJobRunRepoFailExpired(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	now := time.Now().UTC()
	stale := now.Add(-time.Hour)
	job := &types.JobRun{
		JobType: "book_render", BookID: "bk-1", Status: types.StatusRunning, Stage: "render",
		Attempts: 3, HeartbeatAt: &stale, CreatedAt: stale, UpdatedAt: stale,
	}
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := repo.FailExpired(dbc, 3, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("FailExpired: n=%d err=%v", n, err)
	}
	row, _ := repo.GetByID(dbc, job.ID)
	if row.Status != types.StatusFailed {
		t.Fatalf("status: want=failed got=%s", row.Status)
	}
}
