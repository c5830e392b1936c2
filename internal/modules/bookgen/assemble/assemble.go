// Package assemble folds plan, rewrites and figure placements back into the
// canonical tree and serializes the result to HTML.
package assemble

import (
	"strings"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/rewrite"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
)

const Stage = "assemble"

type Input struct {
	Units      []units.Unit
	Skeleton   *plan.Skeleton
	Rewrites   *rewrite.Map
	Figures    []book.Figure
	Placements map[string]string // figure src -> paragraph id
}

type Stats struct {
	BasisReplaced    int `json:"basis_replaced"`
	BoxesWritten     int `json:"boxes_written"`
	HeadingsWrapped  int `json:"headings_wrapped"`
	CompositesMerged int `json:"composites_merged"`
	FiguresAttached  int `json:"figures_attached"`
	FiguresUnplaced  int `json:"figures_unplaced"`
}

type assembler struct {
	in    Input
	stats Stats

	unitByBlock map[string]units.Unit // primary block id -> body unit
	dropped     map[string]string     // consumed list block -> intro block
	images      map[string][]book.Image
}

// Apply returns an assembled copy of ch; ch itself is not modified. Empty
// inputs yield a structurally identical chapter.
func Apply(ch *book.Chapter, in Input) (*book.Chapter, Stats, error) {
	a := &assembler{
		in:          in,
		unitByBlock: map[string]units.Unit{},
		dropped:     map[string]string{},
		images:      map[string][]book.Image{},
	}
	if a.in.Rewrites == nil {
		a.in.Rewrites = rewrite.NewMap()
	}
	for _, u := range in.Units {
		if !u.Rewritable() {
			continue
		}
		a.unitByBlock[u.BlockID()] = u
		if u.Kind == units.KindCompositeList && a.rewritten(u.ID) {
			for _, id := range u.BlockIDs[1:] {
				a.dropped[id] = u.BlockID()
			}
		}
	}

	out := cloneChapter(ch)
	a.indexFigures(out)
	// Images of consumed list blocks move onto the surviving intro.
	out.Walk(func(_ []string, b *book.Block) bool {
		if intro, ok := a.dropped[b.ID]; ok && len(b.Images) > 0 {
			a.images[intro] = append(a.images[intro], b.Images...)
		}
		return true
	})
	for si := range out.Sections {
		out.Sections[si].Blocks = a.blocks(out.Sections[si].Blocks)
	}
	if err := out.Validate(); err != nil {
		return nil, a.stats, joberr.New(joberr.KindInternal, Stage, err)
	}
	if err := out.ValidateRenderable(); err != nil {
		return nil, a.stats, joberr.New(joberr.KindContract, Stage, err)
	}
	return out, a.stats, nil
}

func (a *assembler) rewritten(unitID string) bool {
	_, basis := a.in.Rewrites.Basis[unitID]
	_, deep := a.in.Rewrites.Verdieping[unitID]
	return basis || deep
}

// indexFigures queues placed figures under their paragraph. Figures placed at
// ids outside this chapter are counted as unplaced.
func (a *assembler) indexFigures(ch *book.Chapter) {
	if len(a.in.Placements) == 0 {
		return
	}
	present := map[string]bool{}
	ch.Walk(func(_ []string, b *book.Block) bool {
		if b.Type == book.BlockParagraph {
			present[b.ID] = true
		}
		return true
	})
	for _, f := range a.in.Figures {
		pid, ok := a.in.Placements[f.Src]
		if !ok {
			continue
		}
		if !present[pid] {
			a.stats.FiguresUnplaced++
			continue
		}
		a.images[pid] = append(a.images[pid], f.Image())
	}
}

func (a *assembler) blocks(in []book.Block) []book.Block {
	if len(in) == 0 {
		return in
	}
	out := make([]book.Block, 0, len(in))
	for i := range in {
		b := in[i]
		if _, gone := a.dropped[b.ID]; gone {
			continue
		}
		if b.Type == book.BlockSubparagraph {
			b.Blocks = a.blocks(b.Blocks)
			out = append(out, b)
			continue
		}
		a.applyText(&b)
		a.attachImages(&b)
		if title, ok := a.heading(b.ID); ok {
			a.stats.HeadingsWrapped++
			out = append(out, book.Block{
				Type:   book.BlockSubparagraph,
				ID:     b.ID + "-kop",
				Title:  title,
				Blocks: []book.Block{b},
			})
			continue
		}
		out = append(out, b)
	}
	return out
}

func (a *assembler) applyText(b *book.Block) {
	if b.Type != book.BlockParagraph {
		return
	}
	rw := a.in.Rewrites
	u, isUnit := a.unitByBlock[b.ID]
	if isUnit {
		if text, ok := rw.Basis[u.ID]; ok {
			b.Basis = text
			a.stats.BasisReplaced++
			if u.Kind == units.KindCompositeList {
				a.stats.CompositesMerged++
			}
		}
		if text, ok := rw.Verdieping[u.ID]; ok {
			// The unit becomes a deepening box.
			b.Verdieping = text
			b.Basis = ""
			a.stats.BoxesWritten++
			if u.Kind == units.KindCompositeList {
				a.stats.CompositesMerged++
			}
		}
		if text, ok := rw.Praktijk[u.ID]; ok {
			b.Praktijk = text
			a.stats.BoxesWritten++
		}
	}
	if text, ok := rw.Praktijk[b.ID+units.PraktijkSuffix]; ok {
		b.Praktijk = text
		a.stats.BoxesWritten++
	}
	if text, ok := rw.ExistingVerdieping[b.ID+units.VerdiepingSuffix]; ok {
		b.Verdieping = text
		a.stats.BoxesWritten++
	}
}

func (a *assembler) attachImages(b *book.Block) {
	add := a.images[b.ID]
	if len(add) == 0 {
		return
	}
	have := map[string]bool{}
	for _, img := range b.Images {
		have[strings.TrimSpace(img.Src)] = true
	}
	for _, img := range add {
		if have[img.Src] {
			continue
		}
		have[img.Src] = true
		b.Images = append(b.Images, img)
		if _, placed := a.in.Placements[img.Src]; placed {
			a.stats.FiguresAttached++
		}
	}
}

func (a *assembler) heading(blockID string) (string, bool) {
	if a.in.Skeleton == nil {
		return "", false
	}
	u, ok := a.unitByBlock[blockID]
	if !ok {
		return "", false
	}
	title, ok := a.in.Skeleton.Headings[u.ID]
	return title, ok && strings.TrimSpace(title) != ""
}

func cloneChapter(ch *book.Chapter) *book.Chapter {
	b := &book.Book{Chapters: []book.Chapter{*ch}}
	return &b.Clone().Chapters[0]
}
