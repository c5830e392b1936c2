package plan

import (
	"strings"
	"unicode"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
)

var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		de het een en of maar want dus als dan dat die dit deze wat wie waar hoe
		is zijn was waren wordt worden werd kan kunnen moet moeten mag mogen zal zullen
		je jij u we wij ze zij hij het men ik er hier daar ook nog al wel niet geen
		in op aan bij met naar van voor door over onder tussen uit om tot na te
		zo zoals omdat doordat terwijl wanneer elke ieder alle veel meer minst
		the a an and or but of to in on at for with by from is are was were be this that`) {
		stopWords[w] = true
	}
}

// FallbackTitle builds a 2-3 word heading from the leading content words of
// the unit text. It returns "" when the text has fewer than two.
func FallbackTitle(text string, items []string) string {
	src := units.PlainText(text)
	if len(strings.Fields(src)) < 2 && len(items) > 0 {
		src += " " + strings.Join(items, " ")
	}
	var words []string
	for _, raw := range strings.Fields(src) {
		w := strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		lw := strings.ToLower(w)
		if len([]rune(lw)) < 3 || stopWords[lw] {
			continue
		}
		if containsFold(words, lw) {
			continue
		}
		words = append(words, lw)
		if len(words) == 3 {
			break
		}
	}
	if len(words) < 2 {
		return ""
	}
	r := []rune(words[0])
	r[0] = unicode.ToUpper(r[0])
	words[0] = string(r)
	return strings.Join(words, " ")
}

func containsFold(ws []string, w string) bool {
	for _, v := range ws {
		if strings.EqualFold(v, w) {
			return true
		}
	}
	return false
}
