package rewrite

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/llm/llmtest"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

func TestPostProcess(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Een **kernbegrip** hier.", "Een <strong>kernbegrip</strong> hier."},
		{"Een <<b>>term<</b>>.", "Een <strong>term</strong>."},
		{"## Kopje\nTekst blijft.", "Tekst blijft."},
		{"[[H]]Kop\nTekst.", "Tekst."},
		{"Geen #hashtag kop.", "Geen #hashtag kop."},
	}
	for _, tc := range cases {
		if got := PostProcess(tc.in); got != tc.want {
			t.Fatalf("PostProcess(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func testUnits() []units.Unit {
	return []units.Unit{
		{ID: "p1", Kind: units.KindParagraph, Text: "Eerste alinea over zorg.", WordCount: 4, Order: 0},
		{ID: "p2", Kind: units.KindCompositeList, Text: "Let op:", Items: []string{"a", "b"}, WordCount: 4, Order: 1},
		{ID: "l1", Kind: units.KindList, Items: []string{"c"}, WordCount: 1, Order: 2},
		{ID: "p3", Kind: units.KindParagraph, Text: "Derde alinea.", WordCount: 2, HasPraktijk: true, Order: 3},
		{ID: "p3#praktijk", Kind: units.KindPraktijk, Text: "Je werkt in de wijk.", WordCount: 5, Order: 4},
		{ID: "p4", Kind: units.KindParagraph, Text: "Vierde alinea.", WordCount: 2, Order: 5},
		{ID: "p4#verdieping", Kind: units.KindVerdiepingExisting, Text: "Bestaande verdieping.", WordCount: 2, Order: 6},
	}
}

func TestRewriteRoutesByRole(t *testing.T) {
	fake := llmtest.New()
	fake.TextFunc = func(system, user string) (string, error) { return "Herschreven **tekst**.", nil }
	sk := &plan.Skeleton{Deepening: []string{"p4"}}

	var progress []int
	m, err := NewRewriter(logger.Nop()).Rewrite(context.Background(), fake, testUnits(), sk, func(done, total int) {
		progress = append(progress, done*10+total)
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(m.Basis) != 3 || m.Basis["p1"] != "Herschreven <strong>tekst</strong>." {
		t.Fatalf("basis: %v", m.Basis)
	}
	if _, ok := m.Verdieping["p4"]; !ok || len(m.Verdieping) != 1 {
		t.Fatalf("verdieping: %v", m.Verdieping)
	}
	if _, ok := m.Praktijk["p3#praktijk"]; !ok {
		t.Fatalf("praktijk: %v", m.Praktijk)
	}
	if _, ok := m.ExistingVerdieping["p4#verdieping"]; !ok {
		t.Fatalf("existing verdieping: %v", m.ExistingVerdieping)
	}
	if _, ok := m.Basis["l1"]; ok {
		t.Fatalf("standalone list must not be rewritten")
	}
	if len(fake.Calls()) != 6 || progress[len(progress)-1] != 66 {
		t.Fatalf("calls=%d progress=%v", len(fake.Calls()), progress)
	}
	var sawListPrompt bool
	for _, c := range fake.Calls() {
		if strings.Contains(c.User, "List items:\n- a\n- b") {
			sawListPrompt = true
		}
	}
	if !sawListPrompt {
		t.Fatalf("composite unit did not use the list prompt")
	}
}

func TestRewriteEmptyOutputIsFatal(t *testing.T) {
	fake := llmtest.New()
	fake.Text = []string{"## Alleen een kop"}
	_, err := NewRewriter(logger.Nop()).Rewrite(context.Background(), fake, testUnits()[:1], nil, nil)
	if err == nil || joberr.KindOf(err) != joberr.KindContract || !joberr.IsFatal(err) {
		t.Fatalf("want fatal contract error got %v", err)
	}
}

func TestFlagTokens(t *testing.T) {
	cfg := DefaultHyphenConfig()
	got := FlagTokens("De arbeidsongeschiktheidsverzekering en de e-mail, plus gewone woorden.", cfg)
	if strings.Join(got, "|") != "arbeidsongeschiktheidsverzekering|e-mail" {
		t.Fatalf("flagged: %q", got)
	}
}

func TestEditRatio(t *testing.T) {
	if r := EditRatio("abcd", "abcd"); r != 0 {
		t.Fatalf("identical: got=%v", r)
	}
	if r := EditRatio("abcd", "abxd"); r != 0.25 {
		t.Fatalf("one edit: want=0.25 got=%v", r)
	}
}

func TestHyphenatorFixesNominatedOnly(t *testing.T) {
	long := "De arbeidsongeschiktheidsverzekering is belangrijk voor iedere werknemer in de zorg."
	m := NewMap()
	m.Basis["p1"] = long
	m.Basis["p2"] = "Kort en goed."
	m.Verdieping["p3"] = "Een ziektekostenverzekeringspolis hier."

	fake := llmtest.New()
	fake.OnJSON("hyphenation_qa", `{"block_ids":["basis:p1","verdieping:p3","basis:ghost"]}`)
	fake.OnJSON("hyphenation_fix", `{"fixes":[
		{"block_id":"basis:p1","text":"De arbeids-ongeschiktheidsverzekering is belangrijk voor iedere werknemer in de zorg."},
		{"block_id":"verdieping:p3","text":"Totaal andere tekst die niets met het origineel te maken heeft."},
		{"block_id":"basis:p2","text":"Gekaapt."}
	]}`)
	rep := NewHyphenator(logger.Nop(), DefaultHyphenConfig()).Run(context.Background(), fake, m)

	if rep.Flagged != 2 || rep.Nominated != 2 || rep.Fixed != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if !strings.Contains(m.Basis["p1"], "arbeids-ongeschiktheidsverzekering") {
		t.Fatalf("fix not applied: %q", m.Basis["p1"])
	}
	if m.Verdieping["p3"] != "Een ziektekostenverzekeringspolis hier." {
		t.Fatalf("over-broad fix applied: %q", m.Verdieping["p3"])
	}
	if m.Basis["p2"] != "Kort en goed." {
		t.Fatalf("unflagged block changed")
	}
	if len(rep.Rejected) != 1 || rep.Rejected[0] != "verdieping:p3" {
		t.Fatalf("rejected: %v", rep.Rejected)
	}
}

func TestHyphenatorSkipsFailedBatches(t *testing.T) {
	m := NewMap()
	m.Basis["p1"] = "De arbeidsongeschiktheidsverzekering."
	fake := llmtest.New()
	fake.OnJSON("hyphenation_qa", "geen json")
	rep := NewHyphenator(logger.Nop(), DefaultHyphenConfig()).Run(context.Background(), fake, m)
	if len(rep.Skipped) != 1 || m.Basis["p1"] != "De arbeidsongeschiktheidsverzekering." {
		t.Fatalf("report: %+v", rep)
	}
}
