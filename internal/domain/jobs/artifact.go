package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ArtifactKind string

const (
	ArtifactHTML          ArtifactKind = "html"
	ArtifactAssembledJSON ArtifactKind = "assembled_json"
	ArtifactPDF           ArtifactKind = "pdf"
	ArtifactRenderLog     ArtifactKind = "render_log"
	ArtifactDebugJSON     ArtifactKind = "debug_json"
	ArtifactLayoutReport  ArtifactKind = "layout_report"
)

// JobArtifact records one uploaded output blob.
type JobArtifact struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	ChapterIndex *int      `gorm:"column:chapter_index" json:"chapter_index,omitempty"`
	Kind         string    `gorm:"column:kind;not null" json:"kind"`
	Name         string    `gorm:"column:name;not null" json:"name"`
	ObjectKey    string    `gorm:"column:object_key;not null;uniqueIndex" json:"object_key"`
	ContentType  string    `gorm:"column:content_type" json:"content_type,omitempty"`
	SHA256       string    `gorm:"column:sha256;not null" json:"sha256"`
	SizeBytes    int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (JobArtifact) TableName() string { return "job_artifact" }

func (a *JobArtifact) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
