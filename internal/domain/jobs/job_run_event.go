package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobEventKind string

const (
	JobEventClaimed  JobEventKind = "claimed"
	JobEventProgress JobEventKind = "progress"
	JobEventFailed   JobEventKind = "failed"
	JobEventDone     JobEventKind = "done"
)

// JobRunEvent is an append-only ledger of status and progress reports.
type JobRunEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind      string    `gorm:"column:kind;not null" json:"kind"`
	Stage     string    `gorm:"column:stage;not null" json:"stage"`
	Progress  int       `gorm:"column:progress;not null" json:"progress"`
	Message   string    `gorm:"column:message" json:"message,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }

func (e *JobRunEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
