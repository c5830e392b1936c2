package domain

import (
	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
)

type (
	JobRun          = jobs.JobRun
	JobRunEvent     = jobs.JobRunEvent
	JobArtifact     = jobs.JobArtifact
	FigurePlacement = book.FigurePlacement
)

// Models lists every gorm model for auto-migration.
func Models() []any {
	return []any{
		&jobs.JobRun{},
		&jobs.JobRunEvent{},
		&jobs.JobArtifact{},
		&book.FigurePlacement{},
	}
}
