// Package pipeline runs the book render stages for one job: unit
// extraction, planning, rewriting, practice generation, hyphenation, figure
// placement, assembly and rendering.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/assemble"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/assets"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/figures"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/praktijk"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/render"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/rewrite"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const (
	StageExtract = "extract_units"
	StageAssets  = "assets"
)

type Config struct {
	LeadIn      units.LeadInConfig
	Plan        plan.Config
	Hyphenation rewrite.HyphenConfig
	Figures     figures.Config
	MaxImagePx  int
}

func DefaultConfig() Config {
	return Config{
		LeadIn:      units.DefaultLeadInConfig(),
		Plan:        plan.DefaultConfig(),
		Hyphenation: rewrite.DefaultHyphenConfig(),
		Figures:     figures.DefaultConfig(),
	}
}

// Reporter receives non-terminal progress.
type Reporter interface {
	Progress(stage string, pct int, msg string)
}

// ArtifactSink stores intermediate outputs as they are produced.
type ArtifactSink interface {
	Put(ctx context.Context, kind jobs.ArtifactKind, name string, data []byte) error
}

type Deps struct {
	Placer   *figures.Placer
	Renderer *render.Renderer
	Painter  assets.Painter
	Storage  gcp.ObjectBackend
}

type Engine struct {
	log        *logger.Logger
	cfg        Config
	planner    *plan.Planner
	rewriter   *rewrite.Rewriter
	hyphenator *rewrite.Hyphenator
	praktijk   *praktijk.Generator
	placer     *figures.Placer
	renderer   *render.Renderer
	painter    assets.Painter
	storage    gcp.ObjectBackend
}

func NewEngine(log *logger.Logger, cfg Config, deps Deps) *Engine {
	log = log.With("component", "BookgenEngine")
	return &Engine{
		log:        log,
		cfg:        cfg,
		planner:    plan.NewPlanner(log, cfg.Plan),
		rewriter:   rewrite.NewRewriter(log),
		hyphenator: rewrite.NewHyphenator(log, cfg.Hyphenation),
		praktijk:   praktijk.NewGenerator(log),
		placer:     deps.Placer,
		renderer:   deps.Renderer,
		painter:    deps.Painter,
		storage:    deps.Storage,
	}
}

// Options are the per-job switches decoded from the payload.
type Options struct {
	Mode            string
	ChapterIndex    *int
	BookVersion     string
	StrictAssets    bool
	SkipHyphenation bool
	SkipPraktijk    bool
	SkipFigures     bool
	LeadIn          *units.LeadInConfig
	Plan            *plan.Config
}

// OptionsFromPayload maps a decoded job payload onto engine options, using
// base for every value the payload leaves unset.
func OptionsFromPayload(p jobs.RenderPayload, job *jobs.JobRun, base Config) Options {
	opt := Options{
		Mode:            p.Mode,
		StrictAssets:    p.StrictAssets,
		SkipHyphenation: p.SkipHyphenation,
		SkipPraktijk:    p.SkipPraktijk,
		SkipFigures:     p.SkipFigures,
	}
	if job != nil {
		opt.ChapterIndex = job.ChapterIndex
		opt.BookVersion = job.BookVersion
	}
	if p.LeadIn != nil {
		li := base.LeadIn
		if p.LeadIn.ColonEnding != nil {
			li.ColonEnding = *p.LeadIn.ColonEnding
		}
		if p.LeadIn.MaxWords != nil {
			li.MaxWords = *p.LeadIn.MaxWords
		}
		opt.LeadIn = &li
	}
	if p.Plan != nil {
		pc := base.Plan
		if r := p.Plan.Deepening; r != nil {
			pc.Deepening = &plan.Range{Min: r.Min, Max: r.Max}
		}
		if r := p.Plan.Praktijk; r != nil {
			pc.Praktijk = &plan.Range{Min: r.Min, Max: r.Max}
		}
		if v := p.Plan.MinDeepeningWords; v != nil {
			pc.MinDeepeningWords = *v
		}
		if v := p.Plan.MinHeadingWords; v != nil {
			pc.MinHeadingWords = *v
		}
		opt.Plan = &pc
	}
	return opt
}

// Inputs are the decoded job inputs.
type Inputs struct {
	Book    *book.Book
	Figures []book.Figure
	Tokens  book.DesignTokens
	Overlay *book.Overlay
	Index   *assets.Index
	Bundle  []byte
}

type Outcome struct {
	Chapters     []Summary      `json:"chapters"`
	Assets       *assets.Report `json:"assets,omitempty"`
	Placeholders int            `json:"placeholders,omitempty"`

	Assembled []book.Chapter `json:"-"`
	Render    *render.Result `json:"-"`
}

// Run executes every stage in order. A non-nil Outcome is returned with a
// render error so the caller can still upload the backend log.
func (e *Engine) Run(ctx context.Context, p llm.Provider, in Inputs, opt Options, workDir string, rep Reporter, sink ArtifactSink) (*Outcome, error) {
	if in.Book == nil {
		return nil, joberr.Input(StageExtract, "no canonical book")
	}
	if opt.Mode == "" {
		opt.Mode = jobs.ModeFull
	}
	if opt.Mode != jobs.ModeFull {
		p = nil
	} else if p == nil {
		return nil, joberr.New(joberr.KindInternal, plan.Stage, fmt.Errorf("full mode needs a provider"))
	}
	if rep == nil {
		rep = nopReporter{}
	}

	bk := in.Book.Clone()
	selected, err := selectChapters(bk, opt.ChapterIndex)
	if err != nil {
		return nil, err
	}
	scope := chapterScope{
		n:       len(selected),
		sparse:  figures.IsTextSparse(in.Book, e.cfg.Figures.SparseThreshold),
		version: bookVersion(in.Book, opt),
		leadIn:  e.cfg.LeadIn,
	}
	if opt.LeadIn != nil {
		scope.leadIn = *opt.LeadIn
	}

	rcs := make([]*RunContext, 0, len(selected))
	for pos, idx := range selected {
		rc := newRunContext(pos, idx, &bk.Chapters[idx])
		if n := in.Overlay.Apply(rc.Chapter); n > 0 {
			e.log.Info("overlay applied", "chapter", rc.Chapter.Number, "blocks", n)
		}
		if err := rc.Chapter.Validate(); err != nil {
			return nil, joberr.Input(StageExtract, "%v", err)
		}
		if err := e.runChapter(ctx, p, rc, in, opt, scope, rep, sink); err != nil {
			return nil, err
		}
		rcs = append(rcs, rc)
	}

	placements, err := e.placeFigures(ctx, p, bk, rcs, in, opt, scope, rep)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	for _, rc := range rcs {
		if err := e.assembleChapter(ctx, rc, in.Figures, placements, scope, rep, sink); err != nil {
			return nil, err
		}
		out.Chapters = append(out.Chapters, rc.Summary())
		out.Assembled = append(out.Assembled, *rc.Assembled)
	}

	rep.Progress(StageAssets, 85, "resolving images")
	if err := e.stage(ctx, StageAssets, 0, func(ctx context.Context) error {
		return e.prepareAssets(ctx, in, opt, workDir, out)
	}); err != nil {
		return nil, err
	}

	doc, err := assemble.HTML(in.Book, out.Assembled, in.Tokens)
	if err != nil {
		return nil, joberr.New(joberr.KindInternal, assemble.Stage, err)
	}
	if e.renderer == nil {
		return out, nil
	}
	rep.Progress(render.Stage, 88, "rendering pdf")
	err = e.stage(ctx, render.Stage, 0, func(ctx context.Context) error {
		res, rerr := e.renderer.Render(ctx, render.Request{WorkDir: workDir, HTML: doc, StrictAssets: opt.StrictAssets})
		out.Render = res
		return rerr
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

type chapterScope struct {
	n       int
	sparse  bool
	version string
	leadIn  units.LeadInConfig
}

// pct spreads the per-chapter stages over 5..75; placement, assembly, assets
// and rendering follow.
func (s chapterScope) pct(pos int, frac float64) int {
	return 5 + int(70*(float64(pos)+frac)/float64(s.n))
}

func bookVersion(b *book.Book, opt Options) string {
	if v := strings.TrimSpace(opt.BookVersion); v != "" {
		return v
	}
	if v := strings.TrimSpace(b.Version); v != "" {
		return v
	}
	return "latest"
}

func (e *Engine) runChapter(ctx context.Context, p llm.Provider, rc *RunContext, in Inputs, opt Options, scope chapterScope, rep Reporter, sink ArtifactSink) error {
	num := rc.Chapter.Number
	label := fmt.Sprintf("chapter %d", num)

	rep.Progress(StageExtract, scope.pct(rc.Position, 0), label+": extracting units")
	err := e.stage(ctx, StageExtract, num, func(ctx context.Context) error {
		us, err := units.Extract(rc.Chapter, scope.leadIn)
		if err != nil {
			return err
		}
		rc.Units = us
		rc.UnitIndex = units.Index(us)
		return nil
	})
	if err != nil {
		return err
	}

	if p != nil {
		return e.runLLMStages(ctx, p, rc, in, opt, scope, rep, sink)
	}
	return nil
}

// placeFigures resolves placements once for the whole run. Every chapter of
// the book contributes candidates, including chapters this job does not
// render. Chapters outside the run whose units cannot be extracted simply
// offer none.
func (e *Engine) placeFigures(ctx context.Context, p llm.Provider, bk *book.Book, rcs []*RunContext, in Inputs, opt Options, scope chapterScope, rep Reporter) (*figures.Result, error) {
	if opt.SkipFigures || e.placer == nil || len(in.Figures) == 0 {
		return nil, nil
	}
	extracted := make(map[int][]units.Unit, len(rcs))
	for _, rc := range rcs {
		extracted[rc.Index] = rc.Units
	}
	rep.Progress(figures.Stage, 76, "placing figures")
	var res *figures.Result
	err := e.stage(ctx, figures.Stage, 0, func(ctx context.Context) error {
		chs := make([]figures.ChapterUnits, 0, len(bk.Chapters))
		for i := range bk.Chapters {
			ch := &bk.Chapters[i]
			us, ok := extracted[i]
			if !ok {
				var err error
				if us, err = units.Extract(ch, scope.leadIn); err != nil {
					e.log.Debug("chapter offers no figure candidates", "chapter", ch.Number, "error", err)
					continue
				}
			}
			chs = append(chs, figures.ChapterUnits{Index: i, Number: ch.Number, Units: us})
		}
		var err error
		res, err = e.placer.Resolve(ctx, p, figures.Request{
			BookID:      in.Book.ID,
			BookVersion: scope.version,
			Figures:     in.Figures,
			Chapters:    chs,
			Sparse:      scope.sparse,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) assembleChapter(ctx context.Context, rc *RunContext, figs []book.Figure, placements *figures.Result, scope chapterScope, rep Reporter, sink ArtifactSink) error {
	num := rc.Chapter.Number
	rc.Placements = placements.InChapter(rc.Index)
	for _, f := range figs {
		if _, ok := rc.Placements[f.Src]; ok {
			rc.Figures = append(rc.Figures, f)
		}
	}
	rep.Progress(assemble.Stage, 78+int(7*float64(rc.Position)/float64(scope.n)), fmt.Sprintf("chapter %d: assembling", num))
	err := e.stage(ctx, assemble.Stage, num, func(ctx context.Context) error {
		assembled, stats, err := assemble.Apply(rc.Chapter, assemble.Input{
			Units:      rc.Units,
			Skeleton:   rc.Skeleton,
			Rewrites:   rc.Rewrites,
			Figures:    rc.Figures,
			Placements: rc.Placements,
		})
		if err != nil {
			return err
		}
		rc.Assembled = assembled
		rc.Stats = stats
		return nil
	})
	if err != nil {
		return err
	}
	return putJSON(ctx, sink, jobs.ArtifactAssembledJSON, fmt.Sprintf("assembled_ch%02d.json", num), rc.Assembled)
}

func (e *Engine) runLLMStages(ctx context.Context, p llm.Provider, rc *RunContext, in Inputs, opt Options, scope chapterScope, rep Reporter, sink ArtifactSink) error {
	num := rc.Chapter.Number
	label := fmt.Sprintf("chapter %d", num)
	planner := e.planner
	if opt.Plan != nil {
		planner = plan.NewPlanner(e.log, *opt.Plan)
	}

	rep.Progress(plan.Stage, scope.pct(rc.Position, 0.1), label+": planning")
	err := e.stage(ctx, plan.Stage, num, func(ctx context.Context) error {
		sk, err := planner.Plan(ctx, p, plan.Input{BookTitle: in.Book.Title, ChapterTitle: rc.Chapter.Title, Units: rc.Units})
		if err != nil {
			return err
		}
		rc.Skeleton = sk
		return nil
	})
	if err != nil {
		return err
	}
	if err := putJSON(ctx, sink, jobs.ArtifactDebugJSON, fmt.Sprintf("skeleton_ch%02d.json", num), rc.Skeleton); err != nil {
		return err
	}

	err = e.stage(ctx, rewrite.Stage, num, func(ctx context.Context) error {
		m, err := e.rewriter.Rewrite(ctx, p, rc.Units, rc.Skeleton, func(done, total int) {
			frac := 0.2 + 0.4*float64(done)/float64(total)
			rep.Progress(rewrite.Stage, scope.pct(rc.Position, frac), fmt.Sprintf("%s: rewritten %d/%d units", label, done, total))
		})
		if err != nil {
			return err
		}
		rc.Rewrites = m
		return nil
	})
	if err != nil {
		return err
	}

	if !opt.SkipPraktijk {
		targets := praktijk.Targets(rc.Skeleton, rc.Rewrites, rc.UnitIndex)
		rep.Progress(praktijk.Stage, scope.pct(rc.Position, 0.65), label+": generating "+praktijk.Describe(targets))
		err := e.stage(ctx, praktijk.Stage, num, func(ctx context.Context) error {
			return e.praktijk.Generate(ctx, p, prompts.Input{
				BookTitle:    in.Book.Title,
				ChapterTitle: rc.Chapter.Title,
				Language:     in.Book.Language,
			}, targets, rc.Rewrites)
		})
		if err != nil {
			return err
		}
	}

	if !opt.SkipHyphenation {
		rep.Progress(rewrite.HyphenationStage, scope.pct(rc.Position, 0.75), label+": checking hyphenation")
		_ = e.stage(ctx, rewrite.HyphenationStage, num, func(ctx context.Context) error {
			rc.Hyphen = e.hyphenator.Run(ctx, p, rc.Rewrites)
			return nil
		})
	}
	return nil
}

func (e *Engine) prepareAssets(ctx context.Context, in Inputs, opt Options, workDir string, out *Outcome) error {
	if len(in.Bundle) > 0 {
		files, err := assets.ExtractZip(in.Bundle, filepath.Join(workDir, assets.BundleDir))
		if err != nil {
			return joberr.Input(StageAssets, "%v", err)
		}
		e.log.Info("asset bundle extracted", "files", len(files))
	}
	if opt.Mode == jobs.ModePlaceholders {
		if e.painter == nil {
			return joberr.New(joberr.KindInternal, StageAssets, fmt.Errorf("placeholder mode needs a painter"))
		}
		n, err := assets.SubstitutePlaceholders(out.Assembled, e.painter, workDir)
		if err != nil {
			return joberr.New(joberr.KindInternal, StageAssets, err)
		}
		out.Placeholders = n
		return nil
	}
	res, err := assets.NewResolver(e.log, assets.Config{WorkDir: workDir, MaxPx: e.cfg.MaxImagePx}, e.storage, in.Index)
	if err != nil {
		return joberr.New(joberr.KindInternal, StageAssets, err)
	}
	report, err := res.Localize(ctx, out.Assembled)
	out.Assets = report
	if err != nil {
		if gcp.IsTransient(err) {
			return joberr.New(joberr.KindTransient, StageAssets, err)
		}
		return joberr.New(joberr.KindInternal, StageAssets, err)
	}
	return nil
}

// stage wraps fn in a span and a duration metric.
func (e *Engine) stage(ctx context.Context, name string, chapter int, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "bookgen."+name, attribute.Int("chapter", chapter))
	err := fn(ctx)
	observability.EndSpan(span, err)
	status := "ok"
	if err != nil {
		status = "error"
		e.log.Warn("stage failed", "stage", name, "chapter", chapter, "kind", joberr.KindOf(err), "error", err)
	}
	observability.Current().ObserveStage(name, status, time.Since(start))
	return err
}

// selectChapters returns the positions of the chapters this run renders.
func selectChapters(b *book.Book, index *int) ([]int, error) {
	if index == nil {
		out := make([]int, len(b.Chapters))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if _, err := b.ChapterAt(*index); err != nil {
		return nil, joberr.Input(StageExtract, "%v", err)
	}
	return []int{*index}, nil
}

func putJSON(ctx context.Context, sink ArtifactSink, kind jobs.ArtifactKind, name string, v any) error {
	if sink == nil {
		return nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return joberr.New(joberr.KindInternal, string(kind), err)
	}
	if err := sink.Put(ctx, kind, name, raw); err != nil {
		return joberr.New(joberr.KindTransient, string(kind), fmt.Errorf("upload %s: %w", name, err))
	}
	return nil
}

type nopReporter struct{}

func (nopReporter) Progress(string, int, string) {}
