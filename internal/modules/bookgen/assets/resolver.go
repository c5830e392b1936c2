package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/imaging"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/pdfrender"
)

const Stage = "assets"

type Config struct {
	WorkDir string
	MaxPx   int
}

// Report summarizes one Localize run.
type Report struct {
	Resolved   int      `json:"resolved"`
	FromBundle int      `json:"from_bundle"`
	Downloaded int      `json:"downloaded"`
	Downscaled int      `json:"downscaled"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Resolver turns image srcs into paths relative to the work directory.
// Lookup order: remote or data refs as-is, existing file under the work
// directory, bundle file by basename, storage key from the image index.
type Resolver struct {
	log     *logger.Logger
	cfg     Config
	backend gcp.ObjectBackend
	index   *Index

	bundle     map[string]string // lower basename -> path relative to WorkDir
	bundlePath map[string]string // lower path inside the bundle -> path relative to WorkDir
	done       map[string]string // src -> resolved src
	written    map[string]string // file name in AssetsDir -> origin it was written from
}

func NewResolver(log *logger.Logger, cfg Config, backend gcp.ObjectBackend, index *Index) (*Resolver, error) {
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("asset resolver: work dir required")
	}
	if cfg.MaxPx <= 0 {
		cfg.MaxPx = imaging.DefaultMaxPx
	}
	r := &Resolver{
		log:     log.With("component", "AssetResolver"),
		cfg:     cfg,
		backend: backend,
		index:   index,
		bundle:     map[string]string{},
		bundlePath: map[string]string{},
		done:       map[string]string{},
		written:    map[string]string{},
	}
	if err := r.indexBundle(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) indexBundle() error {
	root := filepath.Join(r.cfg.WorkDir, BundleDir)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.cfg.WorkDir, p)
		if err != nil {
			return err
		}
		key := strings.ToLower(d.Name())
		if _, taken := r.bundle[key]; !taken {
			r.bundle[key] = filepath.ToSlash(rel)
		}
		if inner, err := filepath.Rel(root, p); err == nil {
			r.bundlePath[strings.ToLower(filepath.ToSlash(inner))] = filepath.ToSlash(rel)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("index bundle: %w", err)
	}
	return nil
}

// Resolve returns the src to use in HTML. ok is false when nothing could be
// found; the caller's missing-asset policy decides what happens then.
func (r *Resolver) Resolve(ctx context.Context, src string, rep *Report) (string, bool, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return src, false, nil
	}
	if pdfrender.IsRemoteRef(src) {
		return src, true, nil
	}
	if out, ok := r.done[src]; ok {
		return out, true, nil
	}
	if fileExists(filepath.Join(r.cfg.WorkDir, filepath.FromSlash(src))) {
		r.done[src] = src
		return src, true, nil
	}
	if rel, ok := r.lookupBundle(src); ok {
		out, err := r.normalizeFile(rel, rep)
		if err != nil {
			return "", false, err
		}
		rep.FromBundle++
		r.done[src] = out
		return out, true, nil
	}
	if key, ok := r.index.Lookup(src); ok && r.backend != nil {
		raw, err := gcp.ReadAll(ctx, r.backend, key)
		if errors.Is(err, gcp.ErrObjectNotFound) {
			r.log.Warn("indexed image missing from storage", "src", src, "key", key)
			return src, false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("download %s: %w", key, err)
		}
		out, err := r.store(key, raw, rep)
		if err != nil {
			return "", false, err
		}
		rep.Downloaded++
		r.done[src] = out
		return out, true, nil
	}
	return src, false, nil
}

// normalizeFile downsizes an oversized bundle image into AssetsDir; small
// images are used where they are.
func (r *Resolver) normalizeFile(rel string, rep *Report) (string, error) {
	raw, err := os.ReadFile(filepath.Join(r.cfg.WorkDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("read bundle image %s: %w", rel, err)
	}
	n, err := imaging.Downscale(raw, r.cfg.MaxPx)
	if err != nil || !n.Resized {
		// Formats the decoder does not know (svg, pdf) go to the renderer untouched.
		return rel, nil
	}
	rep.Downscaled++
	return r.write("bundle:"+rel, path.Base(rel), n)
}

// store writes a downloaded object; key is its storage key.
func (r *Resolver) store(key string, raw []byte, rep *Report) (string, error) {
	name := baseName(key)
	n, err := imaging.Downscale(raw, r.cfg.MaxPx)
	if err != nil {
		n = imaging.Normalized{Data: raw, Ext: path.Ext(name)}
	}
	if n.Resized {
		rep.Downscaled++
	}
	return r.write("storage:"+key, name, n)
}

// lookupBundle matches src against the bundle by its path inside the bundle
// first, then by basename.
func (r *Resolver) lookupBundle(src string) (string, bool) {
	clean := strings.ToLower(path.Clean(strings.TrimPrefix(filepath.ToSlash(src), "./")))
	if rel, ok := r.bundlePath[clean]; ok {
		return rel, true
	}
	rel, ok := r.bundle[strings.ToLower(baseName(src))]
	return rel, ok
}

// write stores n under AssetsDir. Different origins that share a basename
// get __dupN names; the same origin always maps to the same file.
func (r *Resolver) write(origin, name string, n imaging.Normalized) (string, error) {
	safe := imaging.SafeFilename(strings.TrimSuffix(name, path.Ext(name)) + n.Ext)
	ext := path.Ext(safe)
	fname := safe
	for i := 2; ; i++ {
		prev, taken := r.written[fname]
		if !taken {
			break
		}
		if prev == origin {
			return AssetsDir + "/" + fname, nil
		}
		fname = fmt.Sprintf("%s__dup%d%s", strings.TrimSuffix(safe, ext), i, ext)
	}
	r.written[fname] = origin
	dir := filepath.Join(r.cfg.WorkDir, AssetsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, fname), n.Data, 0o644); err != nil {
		return "", fmt.Errorf("write asset %s: %w", fname, err)
	}
	return AssetsDir + "/" + fname, nil
}

// Localize rewrites every image src in chapters, openers included.
// Unresolvable srcs are left in place and listed in the report.
func (r *Resolver) Localize(ctx context.Context, chapters []book.Chapter) (*Report, error) {
	rep := &Report{}
	seenMissing := map[string]bool{}
	resolve := func(img *book.Image) error {
		out, ok, err := r.Resolve(ctx, img.Src, rep)
		if err != nil {
			return err
		}
		if !ok {
			if !seenMissing[img.Src] {
				seenMissing[img.Src] = true
				rep.Unresolved = append(rep.Unresolved, img.Src)
			}
			return nil
		}
		rep.Resolved++
		img.Src = out
		return nil
	}
	for ci := range chapters {
		ch := &chapters[ci]
		if ch.Opener != nil {
			if err := resolve(ch.Opener); err != nil {
				return rep, err
			}
		}
		var walkErr error
		ch.Walk(func(_ []string, b *book.Block) bool {
			for i := range b.Images {
				if walkErr = resolve(&b.Images[i]); walkErr != nil {
					return false
				}
			}
			return true
		})
		if walkErr != nil {
			return rep, walkErr
		}
	}
	r.log.Info("images localized",
		"resolved", rep.Resolved,
		"from_bundle", rep.FromBundle,
		"downloaded", rep.Downloaded,
		"downscaled", rep.Downscaled,
		"unresolved", len(rep.Unresolved),
	)
	return rep, nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
