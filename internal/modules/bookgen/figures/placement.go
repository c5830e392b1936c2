// Package figures places figure assets at paragraphs of text-sparse books.
// Placements are computed once per book version and reused afterwards.
package figures

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const Stage = "figures"

type Config struct {
	SparseThreshold int
	TopK            int
	BatchSize       int
	PreviewRunes    int
	LockTTL         time.Duration
	LockWait        time.Duration
}

func DefaultConfig() Config {
	return Config{
		SparseThreshold: 2,
		TopK:            6,
		BatchSize:       6,
		PreviewRunes:    200,
		LockTTL:         5 * time.Minute,
		LockWait:        2 * time.Minute,
	}
}

// Store is the persisted placement table.
type Store interface {
	ListByBookVersion(dbc dbctx.Context, bookID, version string) ([]*book.FigurePlacement, error)
	InsertMissing(dbc dbctx.Context, rows []*book.FigurePlacement) (int64, error)
}

// Locker serializes placement computation across workers. Nil means no
// cross-process lock.
type Locker interface {
	Lock(ctx context.Context, name string, ttl, wait time.Duration) (func(), error)
}

type Placer struct {
	log    *logger.Logger
	cfg    Config
	store  Store
	locker Locker
}

func NewPlacer(log *logger.Logger, cfg Config, store Store, locker Locker) *Placer {
	return &Placer{log: log.With("component", "FigurePlacer"), cfg: cfg, store: store, locker: locker}
}

// IsTextSparse reports whether the book embeds at most threshold images.
func IsTextSparse(b *book.Book, threshold int) bool {
	return b.CountImages() <= threshold
}

// Request scopes one placement run. Chapters carries every chapter of the
// book, not only the ones being rendered, so each figure is scored against
// the whole book and the stored rows hold for later chapter jobs too.
type Request struct {
	BookID      string
	BookVersion string
	Figures     []book.Figure
	Chapters    []ChapterUnits
	Sparse      bool
}

// Target is the paragraph a figure is bound to.
type Target struct {
	ChapterIndex int
	ParagraphID  string
}

// Result maps figure src to its target paragraph.
type Result struct {
	Placements map[string]Target
	Reused     int
	Computed   int
}

// InChapter returns figure src -> paragraph id for the placements that target
// the chapter at index.
func (r *Result) InChapter(index int) map[string]string {
	if r == nil {
		return nil
	}
	out := map[string]string{}
	for src, t := range r.Placements {
		if t.ChapterIndex == index {
			out[src] = t.ParagraphID
		}
	}
	return out
}

// Resolve returns the placements for req.Figures. Stored rows always win.
// Figures without a stored row are computed (only for sparse books), stored
// with insert-if-absent, and reloaded so every worker uses the same rows.
func (pl *Placer) Resolve(ctx context.Context, p llm.Provider, req Request) (*Result, error) {
	res := &Result{Placements: map[string]Target{}}
	if len(req.Figures) == 0 {
		return res, nil
	}
	stored, err := pl.load(ctx, req)
	if err != nil {
		return nil, err
	}
	missing := missingFigures(req.Figures, stored)
	if len(missing) == 0 || !req.Sparse || p == nil {
		return pl.finish(res, req, stored, 0), nil
	}

	if pl.locker != nil {
		release, err := pl.locker.Lock(ctx, "figures:"+req.BookID+":"+req.BookVersion, pl.cfg.LockTTL, pl.cfg.LockWait)
		if err != nil {
			return nil, joberr.New(joberr.KindTransient, Stage, fmt.Errorf("placement lock: %w", err))
		}
		defer release()
		// Another worker may have stored them while we waited.
		if stored, err = pl.load(ctx, req); err != nil {
			return nil, err
		}
		missing = missingFigures(req.Figures, stored)
		if len(missing) == 0 {
			return pl.finish(res, req, stored, 0), nil
		}
	}

	computed, err := pl.compute(ctx, p, missing, req.Chapters)
	if err != nil {
		return nil, err
	}
	rows := make([]*book.FigurePlacement, 0, len(computed))
	for _, f := range missing {
		t, ok := computed[f.Src]
		if !ok {
			continue
		}
		rows = append(rows, &book.FigurePlacement{
			BookID:       req.BookID,
			BookVersion:  req.BookVersion,
			FigureSrc:    f.Src,
			ChapterIndex: t.ChapterIndex,
			ParagraphID:  t.ParagraphID,
			Provider:     p.Name(),
			Model:        p.Model(),
		})
	}
	n, err := pl.store.InsertMissing(dbctx.Context{Ctx: ctx}, rows)
	if err != nil {
		return nil, joberr.New(joberr.KindTransient, Stage, fmt.Errorf("store placements: %w", err))
	}
	observability.Current().AddPlacements("computed", int(n))
	if stored, err = pl.load(ctx, req); err != nil {
		return nil, err
	}
	return pl.finish(res, req, stored, int(n)), nil
}

func (pl *Placer) finish(res *Result, req Request, stored map[string]Target, computed int) *Result {
	for _, f := range req.Figures {
		if t, ok := stored[f.Src]; ok {
			res.Placements[f.Src] = t
		}
	}
	res.Computed = computed
	res.Reused = len(res.Placements) - computed
	if res.Reused < 0 {
		res.Reused = 0
	}
	observability.Current().AddPlacements("reused", res.Reused)
	pl.log.Info("figure placements resolved",
		"book_id", req.BookID,
		"version", req.BookVersion,
		"figures", len(req.Figures),
		"placed", len(res.Placements),
		"computed", computed,
	)
	return res
}

func (pl *Placer) load(ctx context.Context, req Request) (map[string]Target, error) {
	rows, err := pl.store.ListByBookVersion(dbctx.Context{Ctx: ctx}, req.BookID, req.BookVersion)
	if err != nil {
		return nil, joberr.New(joberr.KindTransient, Stage, fmt.Errorf("load placements: %w", err))
	}
	out := make(map[string]Target, len(rows))
	for _, r := range rows {
		out[r.FigureSrc] = Target{ChapterIndex: r.ChapterIndex, ParagraphID: r.ParagraphID}
	}
	return out, nil
}

func missingFigures(figs []book.Figure, stored map[string]Target) []book.Figure {
	var out []book.Figure
	for _, f := range figs {
		if _, ok := stored[f.Src]; !ok {
			out = append(out, f)
		}
	}
	return out
}

type batchFigure struct {
	Src          string `json:"figure_src"`
	Caption      string `json:"caption,omitempty"`
	Alt          string `json:"alt,omitempty"`
	FigureNumber string `json:"figure_number,omitempty"`
}

type batchContext struct {
	FigureSrc  string      `json:"figure_src"`
	Candidates []Candidate `json:"candidates"`
}

type placementResponse struct {
	Placements []struct {
		FigureSrc   string `json:"figure_src"`
		ParagraphID string `json:"paragraph_id"`
	} `json:"placements"`
}

// compute asks the provider per batch. Nothing is returned unless every
// batch validates, so a failure leaves no partial result to persist.
// Figures tagged with a chapter the book does not have are left unplaced.
func (pl *Placer) compute(ctx context.Context, p llm.Provider, figs []book.Figure, chs []ChapterUnits) (map[string]Target, error) {
	cands := NewCandidates(chs, pl.cfg.PreviewRunes)
	if len(cands) == 0 {
		return nil, joberr.Input(Stage, "no paragraphs to place %d figures at", len(figs))
	}
	var placeable []book.Figure
	for _, f := range figs {
		if len(Pool(f, cands)) == 0 {
			pl.log.Warn("no paragraphs in the figure's chapter", "figure", f.Src, "chapter", *f.Chapter)
			continue
		}
		placeable = append(placeable, f)
	}
	out := map[string]Target{}
	for start := 0; start < len(placeable); start += pl.cfg.BatchSize {
		end := start + pl.cfg.BatchSize
		if end > len(placeable) {
			end = len(placeable)
		}
		got, err := pl.placeBatch(ctx, p, placeable[start:end], cands)
		if err != nil {
			return nil, err
		}
		for k, v := range got {
			out[k] = v
		}
	}
	return out, nil
}

// placeBatch requires exactly one in-context paragraph for every figure of
// the batch.
func (pl *Placer) placeBatch(ctx context.Context, p llm.Provider, figs []book.Figure, cands []Candidate) (map[string]Target, error) {
	windows := map[string]map[string]Candidate{}
	bf := make([]batchFigure, 0, len(figs))
	bc := make([]batchContext, 0, len(figs))
	for _, f := range figs {
		top := TopK(f, Pool(f, cands), pl.cfg.TopK)
		win := map[string]Candidate{}
		for _, c := range top {
			win[c.Ref] = c
		}
		windows[f.Src] = win
		bf = append(bf, batchFigure{Src: f.Src, Caption: f.Caption, Alt: f.Alt, FigureNumber: f.FigureNumber})
		bc = append(bc, batchContext{FigureSrc: f.Src, Candidates: top})
	}
	figJSON, _ := json.MarshalIndent(bf, "", "  ")
	ctxJSON, _ := json.MarshalIndent(bc, "", "  ")
	req, err := prompts.Build(prompts.PromptFigurePlacement, prompts.Input{
		FiguresJSON: string(figJSON),
		ContextJSON: string(ctxJSON),
	})
	if err != nil {
		return nil, joberr.New(joberr.KindInternal, Stage, err)
	}
	var resp placementResponse
	if err := llm.GenerateInto(ctx, p, Stage, req, &resp); err != nil {
		return nil, err
	}
	out := map[string]Target{}
	for _, pr := range resp.Placements {
		src := strings.TrimSpace(pr.FigureSrc)
		ref := strings.TrimSpace(pr.ParagraphID)
		win, ok := windows[src]
		if !ok {
			return nil, joberr.Contract(Stage, "placement for unknown figure %q", src)
		}
		c, ok := win[ref]
		if !ok {
			return nil, joberr.Contract(Stage, "figure %q placed at %q outside its candidate context", src, ref)
		}
		if _, dup := out[src]; dup {
			continue
		}
		out[src] = Target{ChapterIndex: c.ChapterIndex, ParagraphID: c.ParagraphID}
	}
	for _, f := range figs {
		if _, ok := out[f.Src]; !ok {
			return nil, joberr.Contract(Stage, "figure %q not placed", f.Src)
		}
	}
	return out, nil
}
