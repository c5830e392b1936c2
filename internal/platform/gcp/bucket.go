package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "github.com/yungbote/bookgen-worker/internal/pkg/errors"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

// ErrObjectExists is returned by CreateIfAbsent when the key is taken.
var ErrObjectExists = fmt.Errorf("object %w", apperrors.ErrAlreadyExists)

// ErrObjectNotFound is returned by Open when the key does not exist.
var ErrObjectNotFound = fmt.Errorf("object %w", apperrors.ErrNotFound)

// ObjectBackend is the narrow storage surface the worker needs.
type ObjectBackend interface {
	CreateIfAbsent(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(key string, ttl time.Duration) (string, error)
}

type BucketConfig struct {
	Storage     ObjectStorageConfig
	Bucket      string
	Credentials string
	// SignerEmail and SignerKey sign URLs when the runtime credentials cannot.
	SignerEmail string
	SignerKey   []byte
}

type Bucket struct {
	log          *logger.Logger
	client       *storage.Client
	bucket       string
	storageMode  ObjectStorageMode
	emulatorHost string
	signerEmail  string
	signerKey    []byte
}

var _ ObjectBackend = (*Bucket)(nil)

// NewBackend returns the backend for cfg.Storage.Mode.
func NewBackend(ctx context.Context, log *logger.Logger, cfg BucketConfig) (ObjectBackend, error) {
	if err := ValidateObjectStorageConfig(cfg.Storage); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if cfg.Storage.Mode == ObjectStorageModeLocal {
		return NewDirBackend(cfg.Storage.LocalDir)
	}
	return NewBucket(ctx, log, cfg)
}

func NewBucket(ctx context.Context, log *logger.Logger, cfg BucketConfig) (*Bucket, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("missing bucket name")
	}
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog := log.With("service", "Bucket")
	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Storage.Mode,
		"mode_source", cfg.Storage.ModeSource(),
		"emulator_host", cfg.Storage.EmulatorHost,
		"bucket", cfg.Bucket,
	)
	return &Bucket{
		log:          serviceLog,
		client:       client,
		bucket:       cfg.Bucket,
		storageMode:  cfg.Storage.Mode,
		emulatorHost: strings.TrimRight(strings.TrimSpace(cfg.Storage.EmulatorHost), "/"),
		signerEmail:  cfg.SignerEmail,
		signerKey:    cfg.SignerKey,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg BucketConfig) (*storage.Client, error) {
	switch cfg.Storage.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptions(cfg.Credentials)
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.Storage.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Storage.Mode)}
	}
}

func (b *Bucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// CreateIfAbsent writes data under key with a DoesNotExist precondition.
func (b *Bucket) CreateIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := b.client.Bucket(b.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = ContentTypeForKey(key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", mapStorageError(err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", mapStorageError(err))
	}
	return nil
}

func mapStorageError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return ErrObjectExists
		case http.StatusNotFound:
			return ErrObjectNotFound
		}
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	return err
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *Bucket) isEmulatorMode() bool {
	return b != nil && IsEmulatorObjectStorageMode(b.storageMode) && b.emulatorHost != ""
}

func (b *Bucket) emulatorObjectMediaURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", b.emulatorHost, url.PathEscape(b.bucket), url.PathEscape(key))
}

// Open streams an object. The returned reader owns a timeout context that is
// released on Close.
func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if b.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, b.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader for %s: %w", key, mapStorageError(err))
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// SignedURL returns a V4 GET URL. The emulator serves objects unsigned.
func (b *Bucket) SignedURL(key string, ttl time.Duration) (string, error) {
	if b.isEmulatorMode() {
		return b.emulatorObjectMediaURL(key), nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	}
	if b.signerEmail != "" && len(b.signerKey) > 0 {
		opts.GoogleAccessID = b.signerEmail
		opts.PrivateKey = b.signerKey
	}
	return b.client.Bucket(b.bucket).SignedURL(key, opts)
}

// DirBackend stores objects as files under root.
type DirBackend struct {
	root string
}

var _ ObjectBackend = (*DirBackend)(nil)

func NewDirBackend(root string) (*DirBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingLocalDir, Mode: string(ObjectStorageModeLocal)}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DirBackend{root: root}, nil
}

func (d *DirBackend) pathFor(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("empty object key")
	}
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (d *DirBackend) CreateIfAbsent(_ context.Context, key string, data []byte, _ string) error {
	p, err := d.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrObjectExists
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (d *DirBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := d.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return f, err
}

func (d *DirBackend) SignedURL(key string, _ time.Duration) (string, error) {
	p, err := d.pathFor(key)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

// ContentTypeForKey guesses a content type from the key extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ReadAll opens key on backend and reads it fully.
func ReadAll(ctx context.Context, backend ObjectBackend, key string) ([]byte, error) {
	rc, err := backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
