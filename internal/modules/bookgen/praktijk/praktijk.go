// Package praktijk generates the new practice boxes chosen by the planner
// in one batched call.
package praktijk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/rewrite"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const Stage = "praktijk"

type target struct {
	UnitID  string   `json:"unit_id"`
	Section string   `json:"section"`
	Facts   []string `json:"facts"`
}

type response struct {
	Items []struct {
		UnitID string `json:"unit_id"`
		Text   string `json:"text"`
	} `json:"items"`
}

type Generator struct {
	log *logger.Logger
}

func NewGenerator(log *logger.Logger) *Generator {
	return &Generator{log: log.With("component", "PraktijkGenerator")}
}

// Targets returns the skeleton's practice ids that have no text in m yet,
// in document order.
func Targets(sk *plan.Skeleton, m *rewrite.Map, idx map[string]units.Unit) []units.Unit {
	if sk == nil {
		return nil
	}
	var out []units.Unit
	for _, id := range sk.Praktijk {
		if m != nil {
			if _, done := m.Praktijk[id]; done {
				continue
			}
		}
		if u, ok := idx[id]; ok {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Generate fills m.Praktijk for every target. A missing or empty item for
// any requested id fails the pass.
func (g *Generator) Generate(ctx context.Context, p llm.Provider, in prompts.Input, targets []units.Unit, m *rewrite.Map) error {
	if len(targets) == 0 {
		return nil
	}
	payload := make([]target, 0, len(targets))
	for _, u := range targets {
		facts := units.Facts(u.Text)
		if len(facts) == 0 {
			facts = append(facts, u.Items...)
		}
		payload = append(payload, target{UnitID: u.ID, Section: u.Section(), Facts: facts})
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return joberr.New(joberr.KindInternal, Stage, err)
	}
	in.TargetsJSON = string(raw)
	req, err := prompts.Build(prompts.PromptPraktijkBatch, in)
	if err != nil {
		return joberr.New(joberr.KindInternal, Stage, err)
	}
	var resp response
	if err := llm.GenerateInto(ctx, p, Stage, req, &resp); err != nil {
		return err
	}

	got := map[string]string{}
	for _, it := range resp.Items {
		id := strings.TrimSpace(it.UnitID)
		text := rewrite.PostProcess(it.Text)
		if id == "" || text == "" {
			continue
		}
		if _, dup := got[id]; !dup {
			got[id] = text
		}
	}
	var missing []string
	for _, u := range targets {
		if _, ok := got[u.ID]; !ok {
			missing = append(missing, u.ID)
		}
	}
	if len(missing) > 0 {
		return joberr.Contract(Stage, "response missing practice text for %s", strings.Join(missing, ", "))
	}
	for _, u := range targets {
		m.Praktijk[u.ID] = got[u.ID]
	}
	if extra := len(got) - len(targets); extra > 0 {
		g.log.Warn("ignored practice items for unrequested units", "count", extra)
	}
	g.log.Info("practice boxes generated", "count", len(targets))
	return nil
}

// Describe is used in progress messages.
func Describe(targets []units.Unit) string {
	return fmt.Sprintf("%d practice boxes", len(targets))
}
