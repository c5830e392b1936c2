package jobs

import "testing"

func TestDecodeRenderPayloadDefaults(t *testing.T) {
	p, err := DecodeRenderPayload([]byte(`{"canonical_key":"books/b1/canonical.json","provider":" Gemini "}`))
	if err != nil {
		t.Fatalf("DecodeRenderPayload: %v", err)
	}
	if p.Mode != ModeFull || !p.RewritesEnabled() {
		t.Fatalf("mode: want=%q got=%q", ModeFull, p.Mode)
	}
	if p.Provider != "gemini" {
		t.Fatalf("provider: want=%q got=%q", "gemini", p.Provider)
	}
}

func TestDecodeRenderPayloadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing canonical": `{}`,
		"bad mode":          `{"canonical_key":"k","mode":"draft"}`,
		"inverted range":    `{"canonical_key":"k","plan":{"deepening":{"min":5,"max":2}}}`,
		"negative words":    `{"canonical_key":"k","plan":{"min_heading_words":-1}}`,
		"negative lead-in":  `{"canonical_key":"k","lead_in":{"max_words":-3}}`,
		"not json":          `{"canonical_key":`,
	}
	for name, raw := range cases {
		if _, err := DecodeRenderPayload([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
