// Package rewrite regenerates unit text according to the chapter plan and
// runs the best-effort hyphenation pass over the result.
package rewrite

import (
	"context"
	"fmt"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/prompts"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const Stage = "rewrite"

// Map holds generated text per unit id, split by destination.
type Map struct {
	Basis              map[string]string `json:"basis"`
	Verdieping         map[string]string `json:"verdieping"`
	Praktijk           map[string]string `json:"praktijk"`
	ExistingVerdieping map[string]string `json:"existing_verdieping"`
}

func NewMap() *Map {
	return &Map{
		Basis:              map[string]string{},
		Verdieping:         map[string]string{},
		Praktijk:           map[string]string{},
		ExistingVerdieping: map[string]string{},
	}
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Basis) + len(m.Verdieping) + len(m.Praktijk) + len(m.ExistingVerdieping)
}

// Role is the template chosen for a unit.
type Role string

const (
	RolePlain             Role = "plain"
	RoleDeepening         Role = "deepening"
	RoleListToProse       Role = "list_to_prose"
	RolePraktijk          Role = "praktijk"
	RoleExistingDeepening Role = "existing_deepening"
	RoleNone              Role = ""
)

// RoleFor selects the template for u under sk. Standalone lists and units
// without text keep their source content.
func RoleFor(u units.Unit, sk *plan.Skeleton) Role {
	if u.WordCount == 0 {
		return RoleNone
	}
	switch u.Kind {
	case units.KindParagraph:
		if sk != nil && sk.IsDeepening(u.ID) {
			return RoleDeepening
		}
		return RolePlain
	case units.KindCompositeList:
		if sk != nil && sk.IsDeepening(u.ID) {
			return RoleDeepening
		}
		return RoleListToProse
	case units.KindPraktijk:
		return RolePraktijk
	case units.KindVerdiepingExisting:
		return RoleExistingDeepening
	}
	return RoleNone
}

var rolePrompts = map[Role]prompts.PromptName{
	RolePlain:             prompts.PromptRewritePlain,
	RoleDeepening:         prompts.PromptRewriteDeepening,
	RoleListToProse:       prompts.PromptRewriteListToProse,
	RolePraktijk:          prompts.PromptRewritePraktijk,
	RoleExistingDeepening: prompts.PromptRewriteExistingDeepening,
}

type Rewriter struct {
	log *logger.Logger
}

func NewRewriter(log *logger.Logger) *Rewriter {
	return &Rewriter{log: log.With("component", "Rewriter")}
}

// Progress is called after each unit with done/total counts.
type Progress func(done, total int)

// Rewrite calls the provider once per unit with a role. Empty output for any
// unit fails the whole pass.
func (r *Rewriter) Rewrite(ctx context.Context, p llm.Provider, us []units.Unit, sk *plan.Skeleton, onProgress Progress) (*Map, error) {
	out := NewMap()
	total := 0
	for _, u := range us {
		if RoleFor(u, sk) != RoleNone {
			total++
		}
	}
	done := 0
	for _, u := range us {
		role := RoleFor(u, sk)
		if role == RoleNone {
			continue
		}
		text, err := r.rewriteUnit(ctx, p, u, role)
		if err != nil {
			return nil, err
		}
		switch role {
		case RolePlain, RoleListToProse:
			out.Basis[u.ID] = text
		case RoleDeepening:
			out.Verdieping[u.ID] = text
		case RolePraktijk:
			out.Praktijk[u.ID] = text
		case RoleExistingDeepening:
			out.ExistingVerdieping[u.ID] = text
		}
		done++
		if onProgress != nil {
			onProgress(done, total)
		}
	}
	r.log.Info("units rewritten",
		"basis", len(out.Basis),
		"verdieping", len(out.Verdieping),
		"praktijk", len(out.Praktijk),
		"existing_verdieping", len(out.ExistingVerdieping),
	)
	return out, nil
}

func (r *Rewriter) rewriteUnit(ctx context.Context, p llm.Provider, u units.Unit, role Role) (string, error) {
	facts := units.Facts(u.Text)
	if len(facts) == 0 && len(u.Items) > 0 {
		facts = []string{"(de introductie is leeg)"}
	}
	req, err := prompts.Build(rolePrompts[role], prompts.Input{
		UnitID:      u.ID,
		SectionPath: joinPath(u.SectionPath),
		Facts:       facts,
		Items:       u.Items,
	})
	if err != nil {
		return "", joberr.New(joberr.KindInternal, Stage, fmt.Errorf("unit %s: %w", u.ID, err))
	}
	raw, err := llm.GenerateText(ctx, p, Stage, req)
	if err != nil {
		return "", err
	}
	text := PostProcess(raw)
	if text == "" {
		return "", joberr.Contract(Stage, "unit %s: empty output after post-processing", u.ID)
	}
	return text, nil
}

func joinPath(p []string) string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += " > "
		}
		out += s
	}
	return out
}
