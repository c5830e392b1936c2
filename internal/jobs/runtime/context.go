package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/bookgen-worker/internal/data/repos"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/ctxutil"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/redisx"
)

/*
Context is the execution handle for one claimed job run. Pipelines never
write job_run directly; they report through Progress, Fail and Succeed.

Guarantees:
  - exactly one terminal report (done or failed) per run; later calls are no-ops
  - terminal rows are never overwritten, including rows a lease sweep already failed
  - every report is appended to the job_run_event ledger and published on the bus
*/
type Context struct {
	Ctx context.Context
	Job *jobs.JobRun
	Log *logger.Logger

	repo    repos.JobRunRepo
	events  repos.JobRunEventRepo
	bus     Publisher
	started time.Time

	mu       sync.Mutex
	terminal bool
}

// Publisher carries job events to subscribers. redisx.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev redisx.JobEvent) error
}

type Deps struct {
	Jobs   repos.JobRunRepo
	Events repos.JobRunEventRepo
	// Bus may be nil when redis is disabled.
	Bus Publisher
}

var terminalStatuses = []string{jobs.StatusDone, jobs.StatusFailed}

func NewContext(ctx context.Context, log *logger.Logger, job *jobs.JobRun, deps Deps) *Context {
	ctx = ctxutil.Default(ctx)
	if log == nil {
		log = logger.Nop()
	}
	c := &Context{
		Ctx:     ctx,
		Job:     job,
		repo:    deps.Jobs,
		events:  deps.Events,
		bus:     deps.Bus,
		started: time.Now(),
	}
	if job != nil {
		c.Log = log.With("job_id", job.ID.String(), "job_type", job.JobType, "book_id", job.BookID, "scope", job.Scope())
		c.Ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{JobID: job.ID.String()})
	} else {
		c.Log = log
	}
	return c
}

// Payload decodes the job payload. Decode failures are input errors.
func (c *Context) Payload() (jobs.RenderPayload, error) {
	if c.Job == nil {
		return jobs.RenderPayload{}, joberr.Input("payload", "no job")
	}
	p, err := jobs.DecodeRenderPayload(c.Job.Payload)
	if err != nil {
		return p, joberr.New(joberr.KindInput, "payload", err)
	}
	return p, nil
}

// Elapsed is the wall time since the context was created.
func (c *Context) Elapsed() time.Duration { return time.Since(c.started) }

// Terminal reports whether Fail or Succeed has already been recorded.
func (c *Context) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Claimed records the claim in the ledger.
func (c *Context) Claimed() {
	if c.Job == nil {
		return
	}
	c.emit(jobs.JobEventClaimed, jobs.StatusRunning, c.Job.Stage, c.Job.Progress, "claimed by "+c.Job.WorkerID)
}

/*
Progress persists a non-terminal stage/progress update. pct is clamped to
0..100 and never moves backwards within a run.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil || c.Job == nil {
		return
	}
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}
	if pct < c.Job.Progress {
		pct = c.Job.Progress
	}
	if pct > 100 {
		pct = 100
	}
	now := time.Now().UTC()
	if c.repo != nil && c.Job.ID != uuid.Nil {
		ok, err := c.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, terminalStatuses, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if err != nil {
			c.Log.Warn("progress update failed", "stage", stage, "error", err)
		} else if !ok {
			// Swept to a terminal status behind our back.
			c.terminal = true
			c.mu.Unlock()
			c.Log.Warn("job already terminal, dropping progress", "stage", stage)
			return
		}
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.Message = msg
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now
	c.mu.Unlock()

	c.Log.Info("progress", "stage", stage, "progress", pct, "message", msg)
	c.emit(jobs.JobEventProgress, jobs.StatusRunning, stage, pct, msg)
}

// FailureResult is stored on job_run.result for failed runs.
type FailureResult struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

/*
Fail records the terminal failure. stage defaults to the stage carried by
err. Returns false when the run was already terminal.
*/
func (c *Context) Fail(stage string, err error) bool {
	if c == nil || c.Job == nil {
		return false
	}
	if err == nil {
		err = fmt.Errorf("unknown failure")
	}
	stage = joberr.StageOf(err, stage)
	if strings.TrimSpace(stage) == "" {
		stage = "run"
	}
	msg := err.Error()
	res := FailureResult{
		Kind:      string(joberr.KindOf(err)),
		Stage:     stage,
		Error:     msg,
		ElapsedMS: c.Elapsed().Milliseconds(),
	}
	now := time.Now().UTC()
	ok := c.finish(map[string]interface{}{
		"status":        jobs.StatusFailed,
		"stage":         stage,
		"message":       "",
		"error":         msg,
		"result":        marshalResult(res),
		"last_error_at": now,
		"finished_at":   now,
		"locked_at":     nil,
		"updated_at":    now,
	}, func(j *jobs.JobRun) {
		j.Status = jobs.StatusFailed
		j.Stage = stage
		j.Message = ""
		j.Error = msg
		j.LastErrorAt = &now
	})
	if !ok {
		return false
	}
	c.Log.Error("job failed", "stage", stage, "kind", res.Kind, "error", msg, "elapsed_ms", res.ElapsedMS)
	c.emit(jobs.JobEventFailed, jobs.StatusFailed, stage, c.Job.Progress, msg)
	return true
}

// Succeed records the terminal success with result serialized as JSON.
// Returns false when the run was already terminal.
func (c *Context) Succeed(stage string, result any) bool {
	if c == nil || c.Job == nil {
		return false
	}
	res := marshalResult(result)
	now := time.Now().UTC()
	ok := c.finish(map[string]interface{}{
		"status":       jobs.StatusDone,
		"stage":        stage,
		"progress":     100,
		"message":      "",
		"error":        "",
		"result":       res,
		"finished_at":  now,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}, func(j *jobs.JobRun) {
		j.Status = jobs.StatusDone
		j.Stage = stage
		j.Progress = 100
		j.Message = ""
		j.Error = ""
		j.HeartbeatAt = &now
	})
	if !ok {
		return false
	}
	c.Log.Info("job done", "stage", stage, "elapsed_ms", c.Elapsed().Milliseconds())
	c.emit(jobs.JobEventDone, jobs.StatusDone, stage, 100, "")
	return true
}

func (c *Context) finish(updates map[string]interface{}, apply func(*jobs.JobRun)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return false
	}
	c.terminal = true
	if c.repo != nil && c.Job.ID != uuid.Nil {
		ok, err := c.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.storeCtx()}, c.Job.ID, terminalStatuses, updates)
		if err != nil {
			c.Log.Error("terminal update failed", "error", err)
			return false
		}
		if !ok {
			c.Log.Warn("job already terminal, dropping report", "status", updates["status"])
			return false
		}
	}
	now := time.Now().UTC()
	apply(c.Job)
	if r, ok := updates["result"].(datatypes.JSON); ok {
		c.Job.Result = r
	}
	c.Job.FinishedAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now
	return true
}

// storeCtx keeps terminal writes alive after the job context is cancelled.
func (c *Context) storeCtx() context.Context {
	if c.Ctx.Err() == nil {
		return c.Ctx
	}
	return context.WithoutCancel(c.Ctx)
}

func (c *Context) emit(kind jobs.JobEventKind, status, stage string, pct int, msg string) {
	ctx := c.storeCtx()
	if c.events != nil && c.Job.ID != uuid.Nil {
		ev := &jobs.JobRunEvent{JobID: c.Job.ID, Kind: string(kind), Stage: stage, Progress: pct, Message: msg}
		if err := c.events.Append(dbctx.Context{Ctx: ctx}, ev); err != nil {
			c.Log.Warn("append job event failed", "kind", kind, "error", err)
		}
	}
	if c.bus != nil {
		err := c.bus.Publish(ctx, redisx.JobEvent{
			JobID:    c.Job.ID.String(),
			BookID:   c.Job.BookID,
			Scope:    c.Job.Scope(),
			Kind:     string(kind),
			Status:   status,
			Stage:    stage,
			Progress: pct,
			Message:  msg,
		})
		if err != nil {
			c.Log.Debug("publish job event failed", "kind", kind, "error", err)
		}
	}
}

func marshalResult(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return datatypes.JSON(b)
}
