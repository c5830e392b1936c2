package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type ArtifactRecorder interface {
	Create(dbc dbctx.Context, a *jobs.JobArtifact) error
}

type ArtifactStoreConfig struct {
	Prefix      string
	MaxDup      int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// ArtifactStore uploads job outputs without ever overwriting an object and
// records each upload.
type ArtifactStore struct {
	log      *logger.Logger
	backend  ObjectBackend
	recorder ArtifactRecorder
	cfg      ArtifactStoreConfig
}

type Artifact struct {
	Kind        jobs.ArtifactKind
	Name        string
	Data        []byte
	ContentType string
}

func NewArtifactStore(log *logger.Logger, backend ObjectBackend, recorder ArtifactRecorder, cfg ArtifactStoreConfig) *ArtifactStore {
	if cfg.MaxDup <= 0 {
		cfg.MaxDup = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	cfg.Prefix = strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	return &ArtifactStore{log: log.With("service", "ArtifactStore"), backend: backend, recorder: recorder, cfg: cfg}
}

// KeyFor returns the object key for name under job's scope.
func (s *ArtifactStore) KeyFor(job *jobs.JobRun, name string) string {
	version := strings.TrimSpace(job.BookVersion)
	if version == "" {
		version = "latest"
	}
	scope := "book"
	if job.ChapterIndex != nil {
		scope = fmt.Sprintf("chapter-%02d", *job.ChapterIndex+1)
	}
	parts := []string{}
	if s.cfg.Prefix != "" {
		parts = append(parts, s.cfg.Prefix)
	}
	parts = append(parts, job.BookID, version, scope, job.ID.String(), name)
	return path.Join(parts...)
}

// DupName inserts "__dupN" before the extension.
func DupName(name string, n int) string {
	if n <= 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s__dup%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// Put uploads a and records it. A taken key moves on to the next __dupN
// name; transient errors back off min(max, base*1.5^attempt).
func (s *ArtifactStore) Put(ctx context.Context, job *jobs.JobRun, a Artifact) (*jobs.JobArtifact, error) {
	if job == nil {
		return nil, fmt.Errorf("artifact %s: nil job", a.Name)
	}
	if len(a.Data) == 0 {
		return nil, fmt.Errorf("artifact %s: empty data", a.Name)
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = ContentTypeForKey(a.Name)
	}
	sum := sha256.Sum256(a.Data)

	for dup := 0; dup <= s.cfg.MaxDup; dup++ {
		name := DupName(a.Name, dup)
		key := s.KeyFor(job, name)
		err := s.createWithRetry(ctx, key, a.Data, contentType)
		if errors.Is(err, ErrObjectExists) {
			s.log.Debug("artifact key taken, trying next suffix", "key", key)
			continue
		}
		if err != nil {
			observability.Current().ObserveArtifactUpload(string(a.Kind), "error", 0)
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}
		rec := &jobs.JobArtifact{
			JobID:        job.ID,
			ChapterIndex: job.ChapterIndex,
			Kind:         string(a.Kind),
			Name:         name,
			ObjectKey:    key,
			ContentType:  contentType,
			SHA256:       hex.EncodeToString(sum[:]),
			SizeBytes:    int64(len(a.Data)),
		}
		if s.recorder != nil {
			if err := s.recorder.Create(dbctx.Context{Ctx: ctx}, rec); err != nil {
				return nil, fmt.Errorf("record artifact %s: %w", key, err)
			}
		}
		observability.Current().ObserveArtifactUpload(string(a.Kind), "ok", rec.SizeBytes)
		s.log.Info("artifact uploaded", "job_id", job.ID, "kind", a.Kind, "key", key, "size_bytes", rec.SizeBytes)
		return rec, nil
	}
	observability.Current().ObserveArtifactUpload(string(a.Kind), "collision", 0)
	return nil, fmt.Errorf("upload %s: %d name collisions", a.Name, s.cfg.MaxDup+1)
}

func (s *ArtifactStore) createWithRetry(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		err = s.backend.CreateIfAbsent(ctx, key, data, contentType)
		if err == nil || errors.Is(err, ErrObjectExists) || !IsTransient(err) {
			return err
		}
		wait := httpx.PowBackoff(attempt, s.cfg.BackoffBase, 1.5, s.cfg.BackoffMax)
		s.log.Warn("artifact upload retrying", "key", key, "attempt", attempt+1, "sleep", wait.String(), "error", err)
		if sErr := httpx.Sleep(ctx, wait); sErr != nil {
			return sErr
		}
	}
	return err
}

// IsTransient reports whether a storage error is worth retrying: 408, 429
// and 5xx responses, timeouts and dropped connections.
func IsTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return httpx.IsRetryableHTTPStatus(gerr.Code)
	}
	return httpx.IsRetryableError(err)
}

// SignedURL proxies to the backend.
func (s *ArtifactStore) SignedURL(key string, ttl time.Duration) (string, error) {
	return s.backend.SignedURL(key, ttl)
}
