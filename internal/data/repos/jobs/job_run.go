package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

// ClaimOptions bounds which rows ClaimNext may lease.
type ClaimOptions struct {
	WorkerID    string
	JobTypes    []string
	MaxAttempts int
	// LeaseTTL is how long a running job may go without a heartbeat before
	// another worker may reclaim it.
	LeaseTTL time.Duration
}

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	ClaimNext(dbc dbctx.Context, opts ClaimOptions) (*types.JobRun, error)
	FailExpired(dbc dbctx.Context, maxAttempts int, leaseTTL time.Duration) (int64, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, workerID string) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := r.tx(dbc).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNext leases the oldest queued job, or a running job whose heartbeat
// is older than LeaseTTL. Failed and done jobs are terminal and never claimed.
func (r *jobRunRepo) ClaimNext(dbc dbctx.Context, opts ClaimOptions) (*types.JobRun, error) {
	now := time.Now().UTC()
	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	staleCutoff := now.Add(-leaseTTL)

	var claimed *types.JobRun
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.StatusQueued, types.StatusRunning, maxAttempts, staleCutoff)
		if len(opts.JobTypes) > 0 {
			q = q.Where("job_type IN ?", opts.JobTypes)
		}
		qErr := q.Order("created_at ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.JobRun{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]interface{}{
				"status":       types.StatusRunning,
				"stage":        "claimed",
				"attempts":     gorm.Expr("attempts + 1"),
				"worker_id":    opts.WorkerID,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = types.StatusRunning
		job.Stage = "claimed"
		job.Attempts++
		job.WorkerID = opts.WorkerID
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FailExpired marks running jobs that exhausted their attempts and lost
// their lease as failed, so they reach a terminal state.
func (r *jobRunRepo) FailExpired(dbc dbctx.Context, maxAttempts int, leaseTTL time.Duration) (int64, error) {
	now := time.Now().UTC()
	res := r.tx(dbc).Model(&types.JobRun{}).
		Where("status = ? AND attempts >= ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
			types.StatusRunning, maxAttempts, now.Add(-leaseTTL)).
		Updates(map[string]interface{}{
			"status":        types.StatusFailed,
			"stage":         "lease_expired",
			"error":         "lease expired after max attempts",
			"last_error_at": now,
			"finished_at":   now,
			"locked_at":     nil,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	q := r.tx(dbc).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, workerID string) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	q := r.tx(dbc).Model(&types.JobRun{}).Where("id = ? AND status = ?", id, types.StatusRunning)
	if workerID != "" {
		q = q.Where("worker_id = ?", workerID)
	}
	return q.Updates(map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	}).Error
}
