package jobs

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

type JobRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType       string         `gorm:"column:job_type;not null;index" json:"job_type"`
	BookID        string         `gorm:"column:book_id;not null;index" json:"book_id"`
	BookVersion   string         `gorm:"column:book_version" json:"book_version,omitempty"`
	ChapterIndex  *int           `gorm:"column:chapter_index" json:"chapter_index,omitempty"`
	OverlayRef    string         `gorm:"column:overlay_ref" json:"overlay_ref,omitempty"`
	RenderBackend string         `gorm:"column:render_backend" json:"render_backend,omitempty"`
	Status        string         `gorm:"column:status;not null;index" json:"status"`
	Stage         string         `gorm:"column:stage;not null" json:"stage"`
	Progress      int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message       string         `gorm:"column:message" json:"message,omitempty"`
	Attempts      int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error         string         `gorm:"column:error" json:"error,omitempty"`
	WorkerID      string         `gorm:"column:worker_id" json:"worker_id,omitempty"`
	LockedAt      *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt   *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt   *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	FinishedAt    *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	Result        datatypes.JSON `gorm:"column:result" json:"result"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

func (j *JobRun) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Stage == "" {
		j.Stage = StatusQueued
	}
	return nil
}

// Scope returns "book" or "chapter:<n>" for logs and artifact names.
func (j *JobRun) Scope() string {
	if j == nil || j.ChapterIndex == nil {
		return "book"
	}
	return "chapter:" + strconv.Itoa(*j.ChapterIndex)
}
