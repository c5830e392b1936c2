package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/bookgen-worker/internal/data/repos"
	jobrepo "github.com/yungbote/bookgen-worker/internal/data/repos/jobs"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/jobs/runtime"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type Config struct {
	// WorkerID is written to claimed rows. Defaults to hostname-pid.
	WorkerID string
	// Concurrency is the number of claim slots. Each slot holds at most one
	// job under its own lease id (WorkerID/N), so N slots behave like N
	// worker instances. Defaults to 1.
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	LeaseTTL          time.Duration
	MaxAttempts       int
	// SweepInterval controls how often expired leases are failed.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		host, _ := os.Hostname()
		c.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Active describes a job currently held by this process.
type Active struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	BookID    string    `json:"book_id"`
	Scope     string    `json:"scope"`
	Slot      string    `json:"slot"`
	StartedAt time.Time `json:"started_at"`
}

type Worker struct {
	log      *logger.Logger
	cfg      Config
	repo     repos.JobRunRepo
	deps     runtime.Deps
	registry *runtime.Registry

	mu     sync.Mutex
	active map[uuid.UUID]Active
	wg     sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, cfg Config, deps runtime.Deps, registry *runtime.Registry) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		log:      baseLog.With("component", "JobWorker", "worker_id", cfg.WorkerID),
		cfg:      cfg,
		repo:     deps.Jobs,
		deps:     deps,
		registry: registry,
		active:   map[uuid.UUID]Active{},
	}
}

// Start launches the claim loops and the lease sweeper. Wait blocks until
// they all stop after ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := fmt.Sprintf("%s/%d", w.cfg.WorkerID, i+1)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, slot)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop(ctx)
	}()
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, slot string) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "slot", slot)
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx, slot)
				if err != nil {
					w.log.Warn("ClaimNext failed", "slot", slot, "error", err)
				}
				if !ran {
					break
				}
			}
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.FailExpired(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.LeaseTTL)
			if err != nil {
				w.log.Warn("FailExpired failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Warn("Failed jobs with expired leases", "count", n)
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context, slot string) (bool, error) {
	if slot == "" {
		slot = w.cfg.WorkerID
	}
	job, err := w.repo.ClaimNext(dbctx.Context{Ctx: ctx}, jobrepo.ClaimOptions{
		WorkerID:    slot,
		JobTypes:    w.registry.Types(),
		MaxAttempts: w.cfg.MaxAttempts,
		LeaseTTL:    w.cfg.LeaseTTL,
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.execute(ctx, slot, job)
	return true, nil
}

// Execute runs a job the caller already holds (status running, worker_id
// set) on the calling goroutine. The one-shot render command uses it to
// bypass the queue.
func (w *Worker) Execute(ctx context.Context, job *jobs.JobRun) {
	slot := job.WorkerID
	if slot == "" {
		slot = w.cfg.WorkerID
	}
	w.execute(ctx, slot, job)
}

func (w *Worker) execute(ctx context.Context, slot string, job *jobs.JobRun) {
	jc := runtime.NewContext(ctx, w.log, job, w.deps)
	jc.Claimed()

	w.track(slot, job)
	defer w.untrack(job.ID)

	stopHeartbeat := w.startHeartbeat(ctx, jc)
	defer stopHeartbeat()

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		jc.Log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		w.observe(jc)
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				jc.Log.Error("Job handler panic", "panic", r)
				jc.Fail("panic", joberr.New(joberr.KindInternal, "panic", errFromRecover(r)))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			jc.Fail("run", runErr)
		}
	}()
	if !jc.Terminal() {
		jc.Fail("run", errors.New("handler returned without reporting a result"))
	}
	w.observe(jc)
}

func (w *Worker) observe(jc *runtime.Context) {
	observability.Current().ObserveJob(jc.Job.JobType, jc.Job.Status, jc.Elapsed())
}

// startHeartbeat refreshes heartbeat_at until the returned stop func runs.
// stop cancels the goroutine and waits for it to exit.
func (w *Worker) startHeartbeat(ctx context.Context, jc *runtime.Context) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	id, workerID := jc.Job.ID, jc.Job.WorkerID
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := w.repo.Heartbeat(dbctx.Context{Ctx: hbCtx}, id, workerID)
				observability.Current().IncHeartbeat(err == nil)
				if err != nil && hbCtx.Err() == nil {
					jc.Log.Debug("heartbeat failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) track(slot string, job *jobs.JobRun) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[job.ID] = Active{
		JobID:     job.ID.String(),
		JobType:   job.JobType,
		BookID:    job.BookID,
		Scope:     job.Scope(),
		Slot:      slot,
		StartedAt: time.Now().UTC(),
	}
}

func (w *Worker) untrack(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, id)
}

// Snapshot returns the jobs this process is running.
func (w *Worker) Snapshot() []Active {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Active, 0, len(w.active))
	for _, a := range w.active {
		out = append(out, a)
	}
	return out
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprint(e.Val) }
