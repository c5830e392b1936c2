package pipeline

import (
	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/assemble"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/rewrite"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
)

// RunContext owns the derived state of one chapter as it moves through the
// stages. Every stage reads what earlier stages left here and nothing else.
type RunContext struct {
	Position int // 0-based among the chapters of this run
	Index    int // 0-based position in the book
	Chapter  *book.Chapter

	Units      []units.Unit
	UnitIndex  map[string]units.Unit
	Skeleton   *plan.Skeleton
	Rewrites   *rewrite.Map
	Hyphen     rewrite.HyphenReport
	Placements map[string]string // figure src -> paragraph id in this chapter
	Figures    []book.Figure

	Assembled *book.Chapter
	Stats     assemble.Stats
}

func newRunContext(pos, index int, ch *book.Chapter) *RunContext {
	return &RunContext{
		Position: pos,
		Index:    index,
		Chapter:  ch,
		Skeleton: &plan.Skeleton{Headings: map[string]string{}},
		Rewrites: rewrite.NewMap(),
	}
}

// Summary is the per-chapter part of the job result.
type Summary struct {
	Number      int            `json:"number"`
	Title       string         `json:"title"`
	Units       int            `json:"units"`
	Headings    int            `json:"headings"`
	Deepening   int            `json:"deepening"`
	Praktijk    int            `json:"praktijk"`
	Rewritten   int            `json:"rewritten"`
	Hyphenation map[string]int `json:"hyphenation,omitempty"`
	Placed      int            `json:"figures_placed"`
	Warnings    []string       `json:"warnings,omitempty"`
	Assembly    assemble.Stats `json:"assembly"`
}

func (rc *RunContext) Summary() Summary {
	s := Summary{
		Number:    rc.Chapter.Number,
		Title:     rc.Chapter.Title,
		Units:     len(rc.Units),
		Rewritten: rc.Rewrites.Len(),
		Assembly:  rc.Stats,
	}
	if rc.Skeleton != nil {
		s.Headings = len(rc.Skeleton.Headings)
		s.Deepening = len(rc.Skeleton.Deepening)
		s.Praktijk = len(rc.Skeleton.Praktijk)
		s.Warnings = append(s.Warnings, rc.Skeleton.Warnings...)
	}
	if rc.Hyphen.Flagged > 0 {
		s.Hyphenation = map[string]int{
			"flagged":   rc.Hyphen.Flagged,
			"nominated": rc.Hyphen.Nominated,
			"fixed":     rc.Hyphen.Fixed,
			"rejected":  len(rc.Hyphen.Rejected),
			"skipped":   len(rc.Hyphen.Skipped),
		}
	}
	s.Placed = len(rc.Placements)
	return s
}
