package promptstyle

import "strings"

const marker = "BOOKGEN_PROMPT_STYLE_V1"

// ApplySystem prepends the house guidance block to a system prompt. It is
// idempotent: prompts already carrying the marker are returned unchanged.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" {
		return base
	}
	if strings.Contains(base, marker) {
		return base
	}
	mode = strings.ToLower(strings.TrimSpace(mode))

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou edit chapters of a vocational textbook for its print edition.")
	b.WriteString("\nKeep the language of the source text. Do not invent facts, numbers or names.")
	b.WriteString("\nIf an output format or schema is specified, output only that format.")
	if mode == "json" {
		b.WriteString("\nReturn a single JSON object that conforms to the schema and contains no extra keys.")
	} else {
		b.WriteString("\nReturn only the requested text, without headings or commentary.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return strings.TrimSpace(b.String())
}
