package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const Stage = "plan"

type Input struct {
	BookTitle    string
	ChapterTitle string
	Units        []units.Unit
}

type Planner struct {
	log *logger.Logger
	cfg Config
}

func NewPlanner(log *logger.Logger, cfg Config) *Planner {
	return &Planner{log: log.With("component", "ContentPlanner"), cfg: cfg}
}

// Plan asks p for a proposal and clamps it. Chapters without candidates get
// an empty skeleton without a provider call.
func (pl *Planner) Plan(ctx context.Context, p llm.Provider, in Input) (*Skeleton, error) {
	cands := BuildCandidates(in.Units, pl.cfg)
	targets := pl.cfg.Resolve(cands)
	if len(cands.Headings)+len(cands.Deepening)+len(cands.Praktijk) == 0 {
		sk := Clamp(Response{}, cands, targets)
		sk.warnf("no planning candidates")
		return sk, nil
	}

	req, err := prompts.Build(prompts.PromptContentPlan, prompts.Input{
		BookTitle:           in.BookTitle,
		ChapterTitle:        in.ChapterTitle,
		HeadingCandidates:   pl.candidateLines(cands, cands.Headings),
		DeepeningCandidates: pl.candidateLines(cands, cands.Deepening),
		PraktijkCandidates:  pl.candidateLines(cands, cands.Praktijk),
		DeepeningMin:        targets.Deepening.Min,
		DeepeningMax:        targets.Deepening.Max,
		PraktijkMin:         targets.Praktijk.Min,
		PraktijkMax:         targets.Praktijk.Max,
		HeadingCap:          targets.HeadingCap,
	})
	if err != nil {
		return nil, fmt.Errorf("build plan prompt: %w", err)
	}

	var resp Response
	if err := llm.GenerateInto(ctx, p, Stage, req, &resp); err != nil {
		return nil, err
	}
	sk := Clamp(resp, cands, targets)
	sk.Provider = p.Name()
	sk.Model = p.Model()
	pl.log.Info("chapter planned",
		"headings", len(sk.Headings),
		"deepening", len(sk.Deepening),
		"praktijk", len(sk.Praktijk),
		"warnings", len(sk.Warnings),
	)
	return sk, nil
}

func (pl *Planner) candidateLines(c Candidates, ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, id := range ids {
		u, _ := c.Unit(id)
		fmt.Fprintf(&b, "%s | %s | %s\n", id, u.Section(), preview(units.PlainText(u.Text+" "+strings.Join(u.Items, " ")), pl.cfg.PreviewRunes))
	}
	return strings.TrimRight(b.String(), "\n")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
