package handlers

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/bookgen-worker/internal/data/repos"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/http/response"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	apperrors "github.com/yungbote/bookgen-worker/internal/pkg/errors"
)

// URLSigner issues short-lived download links for artifact keys.
type URLSigner interface {
	SignedURL(key string, ttl time.Duration) (string, error)
}

type JobHandler struct {
	runs      repos.JobRunRepo
	events    repos.JobRunEventRepo
	artifacts repos.JobArtifactRepo
	signer    URLSigner
	urlTTL    time.Duration
}

func NewJobHandler(set repos.Set, signer URLSigner) *JobHandler {
	return &JobHandler{
		runs:      set.JobRuns,
		events:    set.JobEvents,
		artifacts: set.Artifacts,
		signer:    signer,
		urlTTL:    15 * time.Minute,
	}
}

type artifactView struct {
	*jobs.JobArtifact
	URL string `json:"url,omitempty"`
}

func (h *JobHandler) load(c *gin.Context) (*jobs.JobRun, bool) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, "invalid_job_id", fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return nil, false
	}
	job, err := h.runs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		response.RespondErr(c, "job_lookup_failed", err)
		return nil, false
	}
	if job == nil {
		response.RespondErr(c, "job_not_found", fmt.Errorf("job %s: %w", jobID, apperrors.ErrNotFound))
		return nil, false
	}
	return job, true
}

// GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.load(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /jobs/:id/events
func (h *JobHandler) ListEvents(c *gin.Context) {
	job, ok := h.load(c)
	if !ok {
		return
	}
	evs, err := h.events.ListByJob(dbctx.Context{Ctx: c.Request.Context()}, job.ID)
	if err != nil {
		response.RespondErr(c, "events_failed", err)
		return
	}
	if evs == nil {
		evs = []*jobs.JobRunEvent{}
	}
	response.RespondOK(c, gin.H{"events": evs})
}

// GET /jobs/:id/artifacts?sign=1
func (h *JobHandler) ListArtifacts(c *gin.Context) {
	job, ok := h.load(c)
	if !ok {
		return
	}
	rows, err := h.artifacts.ListByJob(dbctx.Context{Ctx: c.Request.Context()}, job.ID)
	if err != nil {
		response.RespondErr(c, "artifacts_failed", err)
		return
	}
	sign := h.signer != nil && c.Query("sign") == "1"
	out := make([]artifactView, 0, len(rows))
	for _, a := range rows {
		v := artifactView{JobArtifact: a}
		if sign {
			if u, err := h.signer.SignedURL(a.ObjectKey, h.urlTTL); err == nil {
				v.URL = u
			}
		}
		out = append(out, v)
	}
	response.RespondOK(c, gin.H{"artifacts": out})
}
