package units

import (
	"regexp"
	"strings"
)

const maxFactWords = 24

var sentenceEnd = regexp.MustCompile(`([.!?;])\s+`)

// Facts splits text into short fragments: sentences first, then chunks of
// at most 24 words.
func Facts(text string) []string {
	text = strings.TrimSpace(PlainText(text))
	if text == "" {
		return nil
	}
	marked := sentenceEnd.ReplaceAllString(text, "$1\n")
	var out []string
	for _, sent := range strings.Split(marked, "\n") {
		words := strings.Fields(sent)
		for len(words) > 0 {
			n := len(words)
			if n > maxFactWords {
				n = maxFactWords
			}
			out = append(out, strings.Join(words[:n], " "))
			words = words[n:]
		}
	}
	return out
}
