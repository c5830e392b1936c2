// Package plan decides which units get micro-headings, deepening boxes and
// new practice boxes. The provider proposes; Clamp disposes.
package plan

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
)

type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Min, r.Max) }

type Config struct {
	// Explicit ranges win over the ratios when set.
	Deepening *Range
	Praktijk  *Range

	DeepeningRatio [2]float64
	PraktijkRatio  [2]float64
	HeadingRatio   float64

	MinDeepeningWords int
	MinHeadingWords   int
	PreviewRunes      int
}

func DefaultConfig() Config {
	return Config{
		DeepeningRatio:    [2]float64{0.15, 0.25},
		PraktijkRatio:     [2]float64{0.03, 0.06},
		HeadingRatio:      0.4,
		MinDeepeningWords: 60,
		MinHeadingWords:   40,
		PreviewRunes:      160,
	}
}

// Targets are the resolved bounds for one chapter.
type Targets struct {
	Deepening  Range
	Praktijk   Range
	HeadingCap int
}

// Candidates are the unit ids eligible per role, in document order.
type Candidates struct {
	Headings  []string
	Deepening []string
	Praktijk  []string

	units map[string]units.Unit
}

func (c Candidates) Unit(id string) (units.Unit, bool) {
	u, ok := c.units[id]
	return u, ok
}

// BuildCandidates filters body units by word count. Deepening candidates
// exclude paragraphs that already carry a deepening box; practice candidates
// exclude those that already carry a practice box.
func BuildCandidates(us []units.Unit, cfg Config) Candidates {
	c := Candidates{units: map[string]units.Unit{}}
	for _, u := range us {
		if !u.Rewritable() {
			continue
		}
		c.units[u.ID] = u
		if u.WordCount >= cfg.MinHeadingWords {
			c.Headings = append(c.Headings, u.ID)
		}
		if u.WordCount >= cfg.MinDeepeningWords && !u.HasVerdieping {
			c.Deepening = append(c.Deepening, u.ID)
		}
		if !u.HasPraktijk && u.WordCount > 0 {
			c.Praktijk = append(c.Praktijk, u.ID)
		}
	}
	return c
}

// Resolve turns the configured ratios into counts for n body units.
func (cfg Config) Resolve(c Candidates) Targets {
	n := len(c.units)
	ratio := func(r [2]float64) Range {
		return Range{Min: int(math.Floor(r[0] * float64(n))), Max: int(math.Ceil(r[1] * float64(n)))}
	}
	t := Targets{
		Deepening:  ratio(cfg.DeepeningRatio),
		Praktijk:   ratio(cfg.PraktijkRatio),
		HeadingCap: int(math.Ceil(cfg.HeadingRatio * float64(len(c.Headings)))),
	}
	if cfg.Deepening != nil {
		t.Deepening = *cfg.Deepening
	}
	if cfg.Praktijk != nil {
		t.Praktijk = *cfg.Praktijk
	}
	return t
}

// Response is the provider's raw proposal.
type Response struct {
	Headings []struct {
		UnitID string `json:"unit_id"`
		Title  string `json:"title"`
	} `json:"headings"`
	Deepening []string `json:"deepening"`
	Praktijk  []string `json:"praktijk"`
}

// Skeleton is the validated plan for a chapter.
type Skeleton struct {
	Headings  map[string]string `json:"headings"`
	Deepening []string          `json:"deepening"`
	Praktijk  []string          `json:"praktijk"`
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	Targets   Targets           `json:"targets"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func (s *Skeleton) IsDeepening(id string) bool { return contains(s.Deepening, id) }
func (s *Skeleton) IsPraktijk(id string) bool  { return contains(s.Praktijk, id) }

func (s *Skeleton) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Clamp filters, trims and pads the proposal into the targets. It is pure:
// the same inputs always yield the same skeleton.
//
// Deepening is settled first; praktijk then excludes deepening units and
// headings are never given to deepening units.
func Clamp(resp Response, c Candidates, t Targets) *Skeleton {
	sk := &Skeleton{Headings: map[string]string{}, Targets: t}

	deep := c.selectIDs(sk, "deepening", resp.Deepening, c.Deepening, nil, t.Deepening)
	sk.Deepening = deep
	excluded := toSet(deep)
	sk.Praktijk = c.selectIDs(sk, "praktijk", resp.Praktijk, c.Praktijk, excluded, t.Praktijk)

	allowed := toSet(c.Headings)
	seenTitle := map[string]bool{}
	for _, h := range resp.Headings {
		if len(sk.Headings) >= t.HeadingCap {
			sk.warnf("heading cap %d reached, dropped %q", t.HeadingCap, h.UnitID)
			break
		}
		id := strings.TrimSpace(h.UnitID)
		if !allowed[id] {
			sk.warnf("heading for non-candidate %q dropped", id)
			continue
		}
		if excluded[id] {
			sk.warnf("heading for deepening unit %q dropped", id)
			continue
		}
		if _, dup := sk.Headings[id]; dup {
			continue
		}
		u := c.units[id]
		title := normalizeTitle(h.Title)
		if !validTitle(title, u.Section()) || seenTitle[strings.ToLower(title)] {
			fb := FallbackTitle(u.Text, u.Items)
			if !validTitle(fb, u.Section()) || seenTitle[strings.ToLower(fb)] {
				sk.warnf("heading for %q dropped: %q invalid and no fallback", id, h.Title)
				continue
			}
			sk.warnf("heading for %q replaced: %q -> %q", id, h.Title, fb)
			title = fb
		}
		seenTitle[strings.ToLower(title)] = true
		sk.Headings[id] = title
	}
	return sk
}

// selectIDs keeps proposed ids that are candidates and not excluded, then
// trims or pads to r using most-complex-first order. The result is in
// document order.
func (c Candidates) selectIDs(sk *Skeleton, role string, proposed, pool []string, excluded map[string]bool, r Range) []string {
	allowed := toSet(pool)
	chosen := map[string]bool{}
	var picked []string
	for _, raw := range proposed {
		id := strings.TrimSpace(raw)
		switch {
		case !allowed[id]:
			sk.warnf("%s: non-candidate %q dropped", role, id)
			continue
		case excluded[id]:
			sk.warnf("%s: %q already used by another role", role, id)
			continue
		case chosen[id]:
			continue
		}
		chosen[id] = true
		picked = append(picked, id)
	}

	if len(picked) > r.Max {
		ranked := c.mostComplexFirst(picked)
		sk.warnf("%s: trimmed %d -> %d", role, len(picked), r.Max)
		picked = ranked[:r.Max]
	}
	if len(picked) < r.Min {
		var rest []string
		for _, id := range pool {
			if !chosen[id] && !excluded[id] {
				rest = append(rest, id)
			}
		}
		need := r.Min - len(picked)
		if need > len(rest) {
			sk.warnf("%s: only %d candidates for minimum %d", role, len(picked)+len(rest), r.Min)
			need = len(rest)
		}
		if need > 0 {
			sk.warnf("%s: padded %d -> %d", role, len(picked), len(picked)+need)
		}
		picked = append(picked, c.mostComplexFirst(rest)[:need]...)
	}
	return c.documentOrder(picked)
}

func (c Candidates) mostComplexFirst(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := c.units[out[i]], c.units[out[j]]
		if a.WordCount != b.WordCount {
			return a.WordCount > b.WordCount
		}
		return a.Order < b.Order
	})
	return out
}

func (c Candidates) documentOrder(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool { return c.units[out[i]].Order < c.units[out[j]].Order })
	return out
}

func normalizeTitle(s string) string {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'.:`))
	return strings.Join(strings.Fields(s), " ")
}

// validTitle requires 2-4 words and a title distinct from the section's own.
func validTitle(title, section string) bool {
	n := len(strings.Fields(title))
	if n < 2 || n > 4 {
		return false
	}
	return !strings.EqualFold(title, stripNumber(section))
}

func stripNumber(label string) string {
	f := strings.Fields(label)
	if len(f) > 1 && strings.IndexFunc(f[0], unicode.IsLetter) < 0 {
		f = f[1:]
	}
	return strings.Join(f, " ")
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
