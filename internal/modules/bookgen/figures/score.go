package figures

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
)

// figureNumberWeight is what one exact figure-number mention is worth in
// token-overlap units.
const figureNumberWeight = 10

var lexStop = map[string]bool{
	"de": true, "het": true, "een": true, "en": true, "van": true, "voor": true, "met": true,
	"bij": true, "op": true, "in": true, "aan": true, "die": true, "dat": true, "zijn": true,
	"wordt": true, "worden": true, "figuur": true, "afbeelding": true, "the": true, "and": true,
	"of": true, "figure": true,
}

// Tokens lowercases text and keeps words of three or more runes that are
// not stop words.
func Tokens(text string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(units.PlainText(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < 3 || lexStop[f] {
			continue
		}
		out[f] = true
	}
	return out
}

// ChapterUnits are the body units of one chapter, keyed by its position in
// the book.
type ChapterUnits struct {
	Index  int
	Number int
	Units  []units.Unit
}

// Candidate is one paragraph a figure may be placed at. Ref is the id the
// provider sees; it names the chapter because block ids repeat across
// chapters.
type Candidate struct {
	Ref     string `json:"paragraph_id"`
	Section string `json:"section"`
	Preview string `json:"preview"`

	ChapterIndex  int    `json:"-"`
	ChapterNumber int    `json:"-"`
	ParagraphID   string `json:"-"`

	order  int
	text   string
	tokens map[string]bool
}

// Ref qualifies a paragraph id with its chapter position.
func Ref(chapterIndex int, paragraphID string) string {
	return fmt.Sprintf("%d:%s", chapterIndex, paragraphID)
}

// NewCandidates turns body units into placement candidates keyed by the
// paragraph block they write back to, in book order.
func NewCandidates(chs []ChapterUnits, previewRunes int) []Candidate {
	var out []Candidate
	for _, ch := range chs {
		for _, u := range ch.Units {
			if !u.Rewritable() {
				continue
			}
			text := units.PlainText(u.Text + " " + strings.Join(u.Items, " "))
			out = append(out, Candidate{
				Ref:           Ref(ch.Index, u.BlockID()),
				Section:       u.Section(),
				Preview:       clip(text, previewRunes),
				ChapterIndex:  ch.Index,
				ChapterNumber: ch.Number,
				ParagraphID:   u.BlockID(),
				order:         len(out),
				text:          strings.ToLower(text),
				tokens:        Tokens(text),
			})
		}
	}
	return out
}

// Pool narrows cands to the chapter a figure is tagged with. Untagged
// figures compete for every paragraph of the book.
func Pool(f book.Figure, cands []Candidate) []Candidate {
	if f.Chapter == nil {
		return cands
	}
	var out []Candidate
	for _, c := range cands {
		if c.ChapterNumber == *f.Chapter {
			out = append(out, c)
		}
	}
	return out
}

// Score is the token overlap between a figure's caption/alt and a paragraph,
// plus a heavy bonus when the paragraph names the figure number.
func Score(f book.Figure, c Candidate) int {
	score := 0
	for tok := range Tokens(f.Caption + " " + f.Alt) {
		if c.tokens[tok] {
			score++
		}
	}
	if n := strings.TrimSpace(f.FigureNumber); n != "" {
		re := regexp.MustCompile(`(^|[^\d.])` + regexp.QuoteMeta(strings.ToLower(n)) + `($|[^\d])`)
		if re.MatchString(c.text) {
			score += figureNumberWeight
		}
	}
	return score
}

// TopK returns the k best candidates for f, best first; ties keep document
// order.
func TopK(f book.Figure, cands []Candidate, k int) []Candidate {
	type scored struct {
		c     Candidate
		score int
	}
	all := make([]scored, 0, len(cands))
	for _, c := range cands {
		all = append(all, scored{c: c, score: Score(f, c)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].c.order < all[j].c.order
	})
	if k > len(all) {
		k = len(all)
	}
	out := make([]Candidate, 0, k)
	for _, s := range all[:k] {
		out = append(out, s.c)
	}
	return out
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
