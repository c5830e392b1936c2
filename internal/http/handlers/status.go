package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bookgen-worker/internal/http/response"
	"github.com/yungbote/bookgen-worker/internal/jobs/worker"
)

// Snapshotter lists the jobs this process is running.
type Snapshotter interface {
	Snapshot() []worker.Active
}

type StatusInfo struct {
	Version   string
	JobTypes  []string
	Providers []string
}

type StatusHandler struct {
	source  Snapshotter
	info    StatusInfo
	started time.Time
}

func NewStatusHandler(source Snapshotter, info StatusInfo) *StatusHandler {
	return &StatusHandler{source: source, info: info, started: time.Now()}
}

// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	active := []worker.Active{}
	if h.source != nil {
		active = append(active, h.source.Snapshot()...)
	}
	response.RespondOK(c, gin.H{
		"version":    h.info.Version,
		"job_types":  h.info.JobTypes,
		"providers":  h.info.Providers,
		"uptime_sec": int64(time.Since(h.started).Seconds()),
		"active":     active,
	})
}
