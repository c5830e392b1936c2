package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/bookgen-worker/internal/data/repos/figures"
	"github.com/yungbote/bookgen-worker/internal/data/repos/jobs"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type JobRunRepo = jobs.JobRunRepo
type JobRunEventRepo = jobs.JobRunEventRepo
type JobArtifactRepo = jobs.JobArtifactRepo
type PlacementRepo = figures.PlacementRepo

type Set struct {
	JobRuns    JobRunRepo
	JobEvents  JobRunEventRepo
	Artifacts  JobArtifactRepo
	Placements PlacementRepo
}

func New(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		JobRuns:    jobs.NewJobRunRepo(db, log),
		JobEvents:  jobs.NewJobRunEventRepo(db, log),
		Artifacts:  jobs.NewJobArtifactRepo(db, log),
		Placements: figures.NewPlacementRepo(db, log),
	}
}
