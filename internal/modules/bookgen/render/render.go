// Package render writes the assembled HTML into the job work directory,
// applies the missing-asset policy, drives the PDF backend and validates
// what comes back.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
	"github.com/yungbote/bookgen-worker/internal/platform/imaging"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/pdfrender"
)

const (
	Stage    = "render"
	HTMLName = "book.html"
	PDFName  = "book.pdf"

	missingDir = "missing"
)

// MissingPainter draws the stand-in for an asset that could not be found.
type MissingPainter interface {
	MissingImage(src string) ([]byte, error)
}

type MissingAsset struct {
	Src         string `json:"src"`
	Placeholder string `json:"placeholder"`
}

// LayoutReport is uploaded next to the PDF.
type LayoutReport struct {
	Backend      string           `json:"backend"`
	StrictAssets bool             `json:"strict_assets"`
	ImageRefs    int              `json:"image_refs"`
	Missing      []MissingAsset   `json:"missing"`
	HTMLBytes    int              `json:"html_bytes"`
	PDFBytes     int              `json:"pdf_bytes"`
	RenderMillis int64            `json:"render_ms"`
	Stats        *pdfrender.Stats `json:"stats,omitempty"`
	StatsError   string           `json:"stats_error,omitempty"`
}

type Result struct {
	HTML   []byte
	PDF    []byte
	Log    string
	Report LayoutReport
}

type Request struct {
	WorkDir      string
	HTML         []byte
	StrictAssets bool
}

type Renderer struct {
	log       *logger.Logger
	backend   pdfrender.Renderer
	painter   MissingPainter
	inspector *pdfrender.Inspector
}

// NewRenderer wires a backend. painter may be nil, in which case a default
// imaging.Painter is built; inspector may be nil to skip PDF stats.
func NewRenderer(log *logger.Logger, backend pdfrender.Renderer, painter MissingPainter, inspector *pdfrender.Inspector) (*Renderer, error) {
	if backend == nil {
		return nil, fmt.Errorf("render backend required")
	}
	if painter == nil {
		p, err := imaging.NewPainter(imaging.PlaceholderOptions{})
		if err != nil {
			return nil, err
		}
		painter = p
	}
	return &Renderer{
		log:       log.With("component", "Renderer", "backend", backend.Name()),
		backend:   backend,
		painter:   painter,
		inspector: inspector,
	}, nil
}

func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.WorkDir) == "" {
		return nil, joberr.New(joberr.KindInternal, Stage, fmt.Errorf("work dir required"))
	}
	res := &Result{Report: LayoutReport{Backend: r.backend.Name(), StrictAssets: req.StrictAssets, Missing: []MissingAsset{}}}

	doc, err := r.applyAssetPolicy(req, &res.Report)
	if err != nil {
		return nil, err
	}
	res.HTML = doc
	res.Report.HTMLBytes = len(doc)

	htmlPath := filepath.Join(req.WorkDir, HTMLName)
	pdfPath := filepath.Join(req.WorkDir, PDFName)
	if err := os.WriteFile(htmlPath, doc, 0o644); err != nil {
		return nil, joberr.New(joberr.KindInternal, Stage, fmt.Errorf("write html: %w", err))
	}

	start := time.Now()
	out, err := r.backend.Render(ctx, pdfrender.Input{HTMLPath: htmlPath, WorkDir: req.WorkDir, OutPath: pdfPath})
	elapsed := time.Since(start)
	res.Log = out.Log
	res.Report.RenderMillis = elapsed.Milliseconds()
	if err == nil {
		err = pdfrender.Check(out)
	}
	if err != nil {
		observability.Current().ObserveRender(r.backend.Name(), "error", elapsed)
		r.log.Warn("render failed", "error", err, "elapsed", elapsed.String())
		return res, classify(err)
	}
	observability.Current().ObserveRender(r.backend.Name(), "ok", elapsed)
	res.PDF = out.PDF
	res.Report.PDFBytes = len(out.PDF)

	r.inspect(ctx, pdfPath, out.PDF, &res.Report)
	r.log.Info("render complete",
		"pdf_bytes", len(out.PDF),
		"missing", len(res.Report.Missing),
		"elapsed", elapsed.String(),
	)
	return res, nil
}

// applyAssetPolicy fails on missing local images in strict mode and swaps
// them for generated stand-ins otherwise.
func (r *Renderer) applyAssetPolicy(req Request, rep *LayoutReport) ([]byte, error) {
	refs := LocalImageRefs(req.HTML)
	rep.ImageRefs = len(refs)
	var missing []string
	for _, src := range refs {
		st, err := os.Stat(pdfrender.LocalPath(req.WorkDir, src))
		if err != nil || st.IsDir() {
			missing = append(missing, src)
		}
	}
	if len(missing) == 0 {
		return req.HTML, nil
	}
	observability.Current().AddMissingAssets(len(missing))
	if req.StrictAssets {
		return nil, joberr.Asset(Stage, "missing assets: %s", strings.Join(missing, ", "))
	}

	dir := filepath.Join(req.WorkDir, missingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, joberr.New(joberr.KindInternal, Stage, err)
	}
	repl := make(map[string]string, len(missing))
	for i, src := range missing {
		png, err := r.painter.MissingImage(src)
		if err != nil {
			return nil, joberr.New(joberr.KindInternal, Stage, fmt.Errorf("draw missing image: %w", err))
		}
		rel := fmt.Sprintf("%s/missing_%03d.png", missingDir, i+1)
		if err := os.WriteFile(filepath.Join(req.WorkDir, filepath.FromSlash(rel)), png, 0o644); err != nil {
			return nil, joberr.New(joberr.KindInternal, Stage, err)
		}
		repl[src] = rel
		rep.Missing = append(rep.Missing, MissingAsset{Src: src, Placeholder: rel})
	}
	r.log.Warn("missing assets replaced", "count", len(missing))
	doc, err := ReplaceImageSrcs(req.HTML, repl)
	if err != nil {
		return nil, joberr.New(joberr.KindInternal, Stage, fmt.Errorf("rewrite html: %w", err))
	}
	return doc, nil
}

func (r *Renderer) inspect(ctx context.Context, pdfPath string, pdf []byte, rep *LayoutReport) {
	if r.inspector == nil || !r.inspector.Available() {
		return
	}
	if _, err := os.Stat(pdfPath); err != nil {
		if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
			rep.StatsError = err.Error()
			return
		}
	}
	st, err := r.inspector.Inspect(ctx, pdfPath)
	if err != nil {
		r.log.Debug("pdf inspection failed", "error", err)
		rep.StatsError = err.Error()
		return
	}
	rep.Stats = st
}

func classify(err error) error {
	var bf *pdfrender.ErrBackendFailure
	switch {
	case errors.As(err, &bf):
		return joberr.New(joberr.KindInternal, Stage, err)
	case httpx.IsRetryableError(err):
		return joberr.New(joberr.KindTransient, Stage, err)
	default:
		return joberr.New(joberr.KindInternal, Stage, err)
	}
}
