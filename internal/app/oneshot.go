package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/jobs/pipeline/book_render"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
)

// Input roles accepted by RenderOnce.
const (
	InputCanonical = "canonical"
	InputFigures   = "figures"
	InputTokens    = "tokens"
	InputIndex     = "images_index"
	InputBundle    = "bundle"
	InputOverlay   = "overlay"
)

// RenderRequest describes a render run from local files.
type RenderRequest struct {
	BookID       string
	BookVersion  string
	ChapterIndex *int
	// Inputs maps an input role to a local path. InputCanonical is required.
	Inputs  map[string]string
	Payload jobs.RenderPayload
}

type RenderOutcome struct {
	Job       *jobs.JobRun
	Artifacts []*jobs.JobArtifact
}

// RenderOnce stages local inputs into object storage, records a job that is
// already held by this process, and runs it without going through the queue.
// A failed job is returned together with an error.
func (a *App) RenderOnce(ctx context.Context, req RenderRequest) (*RenderOutcome, error) {
	if strings.TrimSpace(req.Inputs[InputCanonical]) == "" {
		return nil, fmt.Errorf("canonical input is required")
	}
	if req.BookID == "" {
		req.BookID = "local"
	}
	runID := uuid.New()
	prefix := fmt.Sprintf("inputs/%s/%s", req.BookID, runID)

	keys := map[string]string{}
	for role, path := range req.Inputs {
		if strings.TrimSpace(path) == "" {
			continue
		}
		key, err := a.stageInput(ctx, prefix, role, path)
		if err != nil {
			return nil, err
		}
		keys[role] = key
	}

	pl := req.Payload
	pl.CanonicalKey = keys[InputCanonical]
	pl.FiguresKey = keys[InputFigures]
	pl.TokensKey = keys[InputTokens]
	pl.IndexKey = keys[InputIndex]
	pl.BundleKey = keys[InputBundle]
	raw, err := json.Marshal(pl)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	workerID := a.Cfg.Worker.ID
	if workerID == "" {
		workerID = "render-cli"
	}
	job := &jobs.JobRun{
		ID:           runID,
		JobType:      book_render.JobType,
		BookID:       req.BookID,
		BookVersion:  req.BookVersion,
		ChapterIndex: req.ChapterIndex,
		OverlayRef:   keys[InputOverlay],
		Status:       jobs.StatusRunning,
		Stage:        "claimed",
		Attempts:     1,
		WorkerID:     workerID,
		LockedAt:     &now,
		HeartbeatAt:  &now,
		Payload:      datatypes.JSON(raw),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := a.Repos.JobRuns.Create(dbc, []*jobs.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	a.Worker.Execute(ctx, job)

	// The job context writes terminal state even after ctx is cancelled.
	readCtx := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	final, err := a.Repos.JobRuns.GetByID(readCtx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", job.ID, err)
	}
	if final == nil {
		return nil, fmt.Errorf("job %s disappeared", job.ID)
	}
	arts, err := a.Repos.Artifacts.ListByJob(readCtx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := &RenderOutcome{Job: final, Artifacts: arts}
	if final.Status != jobs.StatusDone {
		return out, fmt.Errorf("job %s %s at stage %s: %s", final.ID, final.Status, final.Stage, final.Error)
	}
	return out, nil
}

func (a *App) stageInput(ctx context.Context, prefix, role, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s input: %w", role, err)
	}
	key := prefix + "/" + role + strings.ToLower(filepath.Ext(path))
	if err := a.Storage.CreateIfAbsent(ctx, key, data, gcp.ContentTypeForKey(key)); err != nil && !errors.Is(err, gcp.ErrObjectExists) {
		return "", fmt.Errorf("stage %s input: %w", role, err)
	}
	return key, nil
}
