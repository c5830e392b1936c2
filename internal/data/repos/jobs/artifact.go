package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type JobArtifactRepo interface {
	Create(dbc dbctx.Context, a *types.JobArtifact) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobArtifact, error)
}

type jobArtifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobArtifactRepo(db *gorm.DB, baseLog *logger.Logger) JobArtifactRepo {
	return &jobArtifactRepo{db: db, log: baseLog.With("repo", "JobArtifactRepo")}
}

func (r *jobArtifactRepo) Create(dbc dbctx.Context, a *types.JobArtifact) error {
	if a == nil {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(a).Error
}

func (r *jobArtifactRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobArtifact, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobArtifact
	err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
