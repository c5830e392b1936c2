package rewrite

import (
	"regexp"
	"strings"
)

var (
	boldStars   = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldAngles  = regexp.MustCompile(`<<b>>(.+?)<</b>>`)
	headingLine = regexp.MustCompile(`(?m)^\s*(#{1,6}\s+[^\n]*|\[\[H\]\][^\n]*)\n?`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// PostProcess turns bold markers into <strong> and drops echoed heading
// lines. Headings are applied structurally by the assembler.
func PostProcess(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = headingLine.ReplaceAllString(s, "")
	s = boldAngles.ReplaceAllString(s, "<strong>$1</strong>")
	s = boldStars.ReplaceAllString(s, "<strong>$1</strong>")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
