package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const HyphenationStage = "hyphenation"

type HyphenConfig struct {
	LongTokenRunes int
	BatchSize      int
	MaxEditRatio   float64
}

func DefaultHyphenConfig() HyphenConfig {
	return HyphenConfig{LongTokenRunes: 18, BatchSize: 8, MaxEditRatio: 0.35}
}

var shortPrefixRe = regexp.MustCompile(`^[\p{L}\d]{1,3}-[\p{L}\d]`)

// FlagTokens returns the tokens of text likely to break badly in a narrow
// justified column.
func FlagTokens(text string, cfg HyphenConfig) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range strings.Fields(units.PlainText(text)) {
		tok := strings.TrimFunc(raw, func(r rune) bool { return unicode.IsPunct(r) && r != '-' })
		if tok == "" || seen[tok] {
			continue
		}
		if len([]rune(tok)) > cfg.LongTokenRunes || shortPrefixRe.MatchString(tok) {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// HyphenReport summarizes one hyphenation pass.
type HyphenReport struct {
	Flagged   int      `json:"flagged"`
	Nominated int      `json:"nominated"`
	Fixed     int      `json:"fixed"`
	Rejected  []string `json:"rejected,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

type hyphenBlock struct {
	BlockID string   `json:"block_id"`
	Text    string   `json:"text"`
	Flagged []string `json:"flagged"`
}

// entry addresses one text of the rewrite map as "<destination>:<unit id>".
type entry struct {
	key  string
	dest map[string]string
	id   string
}

func (m *Map) entries() []entry {
	var out []entry
	add := func(prefix string, dest map[string]string) {
		ids := make([]string, 0, len(dest))
		for id := range dest {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, entry{key: prefix + ":" + id, dest: dest, id: id})
		}
	}
	add("basis", m.Basis)
	add("verdieping", m.Verdieping)
	add("praktijk", m.Praktijk)
	add("existing_verdieping", m.ExistingVerdieping)
	return out
}

type Hyphenator struct {
	log *logger.Logger
	cfg HyphenConfig
}

func NewHyphenator(log *logger.Logger, cfg HyphenConfig) *Hyphenator {
	if cfg.LongTokenRunes <= 0 {
		cfg.LongTokenRunes = 18
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxEditRatio <= 0 {
		cfg.MaxEditRatio = 0.35
	}
	return &Hyphenator{log: log.With("component", "Hyphenator"), cfg: cfg}
}

// Run fixes flagged spans in m in place. Every failure is logged and the
// batch skipped; Run itself never fails the job.
func (h *Hyphenator) Run(ctx context.Context, p llm.Provider, m *Map) HyphenReport {
	var rep HyphenReport
	var flagged []hyphenBlock
	byKey := map[string]entry{}
	for _, e := range m.entries() {
		toks := FlagTokens(e.dest[e.id], h.cfg)
		if len(toks) == 0 {
			continue
		}
		flagged = append(flagged, hyphenBlock{BlockID: e.key, Text: e.dest[e.id], Flagged: toks})
		byKey[e.key] = e
	}
	rep.Flagged = len(flagged)
	for start := 0; start < len(flagged); start += h.cfg.BatchSize {
		end := start + h.cfg.BatchSize
		if end > len(flagged) {
			end = len(flagged)
		}
		batch := flagged[start:end]
		if err := h.runBatch(ctx, p, batch, byKey, &rep); err != nil {
			ids := make([]string, 0, len(batch))
			for _, b := range batch {
				ids = append(ids, b.BlockID)
			}
			rep.Skipped = append(rep.Skipped, ids...)
			observability.Current().IncBestEffortSkip(HyphenationStage)
			h.log.Warn("hyphenation batch skipped", "blocks", ids, "error", err)
		}
	}
	h.log.Info("hyphenation pass done", "flagged", rep.Flagged, "nominated", rep.Nominated, "fixed", rep.Fixed)
	return rep
}

func (h *Hyphenator) runBatch(ctx context.Context, p llm.Provider, batch []hyphenBlock, byKey map[string]entry, rep *HyphenReport) error {
	blocksJSON, _ := json.Marshal(batch)
	qaReq, err := prompts.Build(prompts.PromptHyphenationQA, prompts.Input{BlocksJSON: string(blocksJSON)})
	if err != nil {
		return err
	}
	var qa struct {
		BlockIDs []string `json:"block_ids"`
	}
	if err := llm.GenerateInto(ctx, p, HyphenationStage, qaReq, &qa); err != nil {
		return bestEffort(err)
	}
	inBatch := map[string]hyphenBlock{}
	for _, b := range batch {
		inBatch[b.BlockID] = b
	}
	var nominated []hyphenBlock
	for _, id := range qa.BlockIDs {
		if b, ok := inBatch[id]; ok {
			nominated = append(nominated, b)
			delete(inBatch, id)
		}
	}
	rep.Nominated += len(nominated)
	if len(nominated) == 0 {
		return nil
	}

	nomJSON, _ := json.Marshal(nominated)
	fixReq, err := prompts.Build(prompts.PromptHyphenationFix, prompts.Input{BlocksJSON: string(nomJSON)})
	if err != nil {
		return err
	}
	var fix struct {
		Fixes []struct {
			BlockID string `json:"block_id"`
			Text    string `json:"text"`
		} `json:"fixes"`
	}
	if err := llm.GenerateInto(ctx, p, HyphenationStage, fixReq, &fix); err != nil {
		return bestEffort(err)
	}
	allowed := map[string]bool{}
	for _, b := range nominated {
		allowed[b.BlockID] = true
	}
	for _, f := range fix.Fixes {
		e, ok := byKey[f.BlockID]
		if !ok || !allowed[f.BlockID] {
			continue
		}
		allowed[f.BlockID] = false
		old := e.dest[e.id]
		next := PostProcess(f.Text)
		if next == "" || next == old {
			continue
		}
		if ratio := EditRatio(old, next); ratio > h.cfg.MaxEditRatio {
			rep.Rejected = append(rep.Rejected, f.BlockID)
			h.log.Debug("hyphenation fix rejected", "block", f.BlockID, "edit_ratio", ratio)
			continue
		}
		e.dest[e.id] = next
		rep.Fixed++
	}
	return nil
}

func bestEffort(err error) error {
	var je *joberr.Error
	if errors.As(err, &je) {
		return joberr.New(joberr.KindBestEffort, HyphenationStage, je.Err)
	}
	return joberr.New(joberr.KindBestEffort, HyphenationStage, err)
}

// EditRatio is the rune-level Levenshtein distance divided by the length of
// the longer string.
func EditRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) > n {
		n = len(rb)
	}
	if n == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(rb)]) / float64(n)
}
