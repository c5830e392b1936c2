package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
)

// SeedJob inserts a queued book_render job. chapter < 0 means whole book.
func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, bookID string, chapter int, payload string) *jobs.JobRun {
	tb.Helper()
	if payload == "" {
		payload = `{}`
	}
	now := time.Now().UTC()
	j := &jobs.JobRun{
		JobType:     "book_render",
		BookID:      bookID,
		BookVersion: "v1",
		Status:      jobs.StatusQueued,
		Stage:       jobs.StatusQueued,
		Payload:     datatypes.JSON([]byte(payload)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if chapter >= 0 {
		c := chapter
		j.ChapterIndex = &c
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

// Reload fetches the job row again.
func Reload(tb testing.TB, ctx context.Context, tx *gorm.DB, j *jobs.JobRun) *jobs.JobRun {
	tb.Helper()
	var out jobs.JobRun
	if err := tx.WithContext(ctx).Where("id = ?", j.ID).First(&out).Error; err != nil {
		tb.Fatalf("reload job: %v", err)
	}
	return &out
}
