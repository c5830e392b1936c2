// Package units flattens a chapter into rewrite-addressable units.
package units

import (
	"regexp"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
)

type Kind string

const (
	KindParagraph          Kind = "paragraph"
	KindCompositeList      Kind = "composite_list"
	KindList               Kind = "list"
	KindSteps              Kind = "steps"
	KindPraktijk           Kind = "praktijk"
	KindVerdiepingExisting Kind = "verdieping_existing"
)

// Suffixes address the box text of a paragraph as its own unit.
const (
	PraktijkSuffix   = "#praktijk"
	VerdiepingSuffix = "#verdieping"
)

const stage = "extract_units"

type Unit struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// BlockIDs lists the source blocks; for composites the intro comes first.
	BlockIDs      []string `json:"block_ids"`
	SectionPath   []string `json:"section_path"`
	Text          string   `json:"text,omitempty"`
	Items         []string `json:"items,omitempty"`
	WordCount     int      `json:"word_count"`
	HasPraktijk   bool     `json:"has_praktijk,omitempty"`
	HasVerdieping bool     `json:"has_verdieping,omitempty"`
	// Order is the position in document order.
	Order int `json:"order"`
}

// BlockID is the block the unit's text is written back to.
func (u Unit) BlockID() string {
	if len(u.BlockIDs) == 0 {
		return u.ID
	}
	return u.BlockIDs[0]
}

// Section is the innermost enclosing section or subparagraph label.
func (u Unit) Section() string {
	if len(u.SectionPath) == 0 {
		return ""
	}
	return u.SectionPath[len(u.SectionPath)-1]
}

// Rewritable reports whether the unit's main text is body text that the
// planner may assign a role to.
func (u Unit) Rewritable() bool {
	return u.Kind == KindParagraph || u.Kind == KindCompositeList
}

// LeadInConfig controls when a paragraph followed by a list is treated as the
// list's introduction. Either condition is enough.
type LeadInConfig struct {
	ColonEnding bool
	MaxWords    int
}

func DefaultLeadInConfig() LeadInConfig {
	return LeadInConfig{ColonEnding: true, MaxWords: 12}
}

func (c LeadInConfig) LooksLikeLeadIn(text string) bool {
	t := strings.TrimSpace(PlainText(text))
	if c.ColonEnding && strings.HasSuffix(t, ":") {
		return true
	}
	return c.MaxWords > 0 && WordCount(t) <= c.MaxWords
}

// Extract walks the chapter depth-first and returns its units in document
// order. A chapter with blocks but no units is an input error.
func Extract(ch *book.Chapter, cfg LeadInConfig) ([]Unit, error) {
	x := &extractor{cfg: cfg}
	blocks := 0
	for si := range ch.Sections {
		s := &ch.Sections[si]
		blocks += len(s.Blocks)
		label := strings.TrimSpace(strings.TrimSpace(s.Number) + " " + strings.TrimSpace(s.Title))
		x.walk(s.Blocks, []string{label})
	}
	if blocks > 0 && len(x.out) == 0 {
		return nil, joberr.Input(stage, "chapter %d has %d blocks but no rewritable units", ch.Number, blocks)
	}
	return x.out, nil
}

type extractor struct {
	cfg LeadInConfig
	out []Unit
}

func (x *extractor) add(u Unit) {
	u.Order = len(x.out)
	x.out = append(x.out, u)
}

func (x *extractor) walk(blocks []book.Block, path []string) {
	for i := 0; i < len(blocks); i++ {
		b := &blocks[i]
		switch b.Type {
		case book.BlockSubparagraph:
			label := strings.TrimSpace(strings.TrimSpace(b.Number) + " " + strings.TrimSpace(b.Title))
			x.walk(b.Blocks, append(append([]string{}, path...), label))
		case book.BlockList, book.BlockSteps:
			kind := KindList
			if b.Type == book.BlockSteps {
				kind = KindSteps
			}
			x.add(Unit{
				ID:          b.ID,
				Kind:        kind,
				BlockIDs:    []string{b.ID},
				SectionPath: clonePath(path),
				Items:       append([]string(nil), b.Items...),
				WordCount:   WordCount(strings.Join(b.Items, " ")),
			})
		case book.BlockParagraph:
			consumed := x.followingLists(blocks, i)
			u := Unit{
				ID:            b.ID,
				Kind:          KindParagraph,
				BlockIDs:      []string{b.ID},
				SectionPath:   clonePath(path),
				Text:          strings.TrimSpace(b.Basis),
				HasPraktijk:   strings.TrimSpace(b.Praktijk) != "",
				HasVerdieping: strings.TrimSpace(b.Verdieping) != "",
			}
			if len(consumed) > 0 {
				u.Kind = KindCompositeList
				for _, lb := range consumed {
					u.BlockIDs = append(u.BlockIDs, lb.ID)
					u.Items = append(u.Items, lb.Items...)
				}
			}
			u.WordCount = WordCount(PlainText(u.Text)) + WordCount(strings.Join(u.Items, " "))
			x.add(u)
			if u.HasVerdieping {
				x.add(boxUnit(b, KindVerdiepingExisting, VerdiepingSuffix, b.Verdieping, path))
			}
			if u.HasPraktijk {
				x.add(boxUnit(b, KindPraktijk, PraktijkSuffix, b.Praktijk, path))
			}
			i += len(consumed)
		}
	}
}

// followingLists returns the list/steps blocks directly after blocks[i] that
// the paragraph introduces, or nil.
func (x *extractor) followingLists(blocks []book.Block, i int) []*book.Block {
	if !x.cfg.LooksLikeLeadIn(blocks[i].Basis) {
		return nil
	}
	var out []*book.Block
	for j := i + 1; j < len(blocks) && blocks[j].Type.IsListLike(); j++ {
		out = append(out, &blocks[j])
	}
	return out
}

func boxUnit(b *book.Block, kind Kind, suffix, text string, path []string) Unit {
	text = strings.TrimSpace(text)
	return Unit{
		ID:          b.ID + suffix,
		Kind:        kind,
		BlockIDs:    []string{b.ID},
		SectionPath: clonePath(path),
		Text:        text,
		WordCount:   WordCount(PlainText(text)),
	}
}

func clonePath(p []string) []string { return append([]string(nil), p...) }

var (
	breakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	tagRe   = regexp.MustCompile(`<[^>]*>`)
)

// PlainText strips inline markup.
func PlainText(s string) string {
	s = breakRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

func WordCount(s string) int { return len(strings.Fields(s)) }

// Index maps unit ids to units.
func Index(us []Unit) map[string]Unit {
	out := make(map[string]Unit, len(us))
	for _, u := range us {
		out[u.ID] = u
	}
	return out
}
