package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ModeFull         = "full"
	ModeRenderOnly   = "render_only"
	ModePlaceholders = "placeholders"
)

// RenderPayload is the typed view of JobRun.Payload.
type RenderPayload struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider"`

	// Object keys for inputs. CanonicalKey is required.
	CanonicalKey string `json:"canonical_key"`
	FiguresKey   string `json:"figures_key"`
	BundleKey    string `json:"bundle_key"`
	TokensKey    string `json:"tokens_key"`
	IndexKey     string `json:"images_index_key"`

	StrictAssets    bool `json:"strict_assets"`
	SkipHyphenation bool `json:"skip_hyphenation"`
	SkipFigures     bool `json:"skip_figures"`
	SkipPraktijk    bool `json:"skip_praktijk"`

	LeadIn *LeadInOverride `json:"lead_in,omitempty"`
	Plan   *PlanOverride   `json:"plan,omitempty"`
}

type LeadInOverride struct {
	ColonEnding *bool `json:"colon_ending,omitempty"`
	MaxWords    *int  `json:"max_words,omitempty"`
}

type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type PlanOverride struct {
	Deepening         *Range `json:"deepening,omitempty"`
	Praktijk          *Range `json:"praktijk,omitempty"`
	MinDeepeningWords *int   `json:"min_deepening_words,omitempty"`
	MinHeadingWords   *int   `json:"min_heading_words,omitempty"`
}

// DecodeRenderPayload parses and validates a job payload. Errors describe
// invalid input and are not retryable.
func DecodeRenderPayload(raw []byte) (RenderPayload, error) {
	var p RenderPayload
	if len(strings.TrimSpace(string(raw))) > 0 && strings.TrimSpace(string(raw)) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("decode payload: %w", err)
		}
	}
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
	if p.Mode == "" {
		p.Mode = ModeFull
	}
	switch p.Mode {
	case ModeFull, ModeRenderOnly, ModePlaceholders:
	default:
		return p, fmt.Errorf("unknown mode %q", p.Mode)
	}
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	if strings.TrimSpace(p.CanonicalKey) == "" {
		return p, fmt.Errorf("canonical_key is required")
	}
	if p.LeadIn != nil && p.LeadIn.MaxWords != nil && *p.LeadIn.MaxWords < 0 {
		return p, fmt.Errorf("lead_in.max_words must be >= 0, got %d", *p.LeadIn.MaxWords)
	}
	if p.Plan != nil {
		for name, r := range map[string]*Range{"deepening": p.Plan.Deepening, "praktijk": p.Plan.Praktijk} {
			if r == nil {
				continue
			}
			if r.Min < 0 || r.Max < 0 || r.Min > r.Max {
				return p, fmt.Errorf("plan.%s range invalid: min=%d max=%d", name, r.Min, r.Max)
			}
		}
		for name, v := range map[string]*int{"min_deepening_words": p.Plan.MinDeepeningWords, "min_heading_words": p.Plan.MinHeadingWords} {
			if v != nil && *v < 0 {
				return p, fmt.Errorf("plan.%s must be >= 0, got %d", name, *v)
			}
		}
	}
	return p, nil
}

// RewritesEnabled reports whether the LLM stages run.
func (p RenderPayload) RewritesEnabled() bool { return p.Mode == ModeFull }
