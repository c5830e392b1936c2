package assemble

import (
	"reflect"
	"strings"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/rewrite"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/units"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
)

const chapterJSON = `{"id":"bk","title":"Zorg","chapters":[{"number":1,"title":"Basiszorg","sections":[
 {"number":"1.1","title":"Hygiëne","blocks":[
  {"type":"paragraph","id":"p1","basis":"Let op de volgende punten:"},
  {"type":"list","id":"l1","items":["handen wassen","handschoenen"],"images":[{"src":"img/l1.png"}]},
  {"type":"paragraph","id":"p2","basis":"Een lange alinea over hygiëne in de zorg met veel woorden erin.","praktijk":"Oude praktijk."},
  {"type":"subparagraph","id":"sp1","number":"1.1.1","title":"Zeep","blocks":[
   {"type":"paragraph","id":"p3","basis":"Zeep doodt bacteriën niet, maar spoelt ze weg van de huid.","verdieping":"Oude verdieping."}
  ]}
 ]}
]}]}`

func load(t *testing.T) (*book.Book, *book.Chapter, []units.Unit) {
	t.Helper()
	b, err := book.Decode([]byte(chapterJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ch := &b.Chapters[0]
	us, err := units.Extract(ch, units.DefaultLeadInConfig())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return b, ch, us
}

func TestApplyNoOpIsIdentity(t *testing.T) {
	_, ch, us := load(t)
	out, stats, err := Apply(ch, Input{Units: us})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(*out, *ch) {
		t.Fatalf("no-op assembly changed the tree:\nwant=%+v\ngot=%+v", *ch, *out)
	}
	if stats != (Stats{}) {
		t.Fatalf("stats: %+v", stats)
	}
	out2, _, _ := Apply(ch, Input{Units: us, Skeleton: &plan.Skeleton{}, Rewrites: rewrite.NewMap(), Placements: map[string]string{}})
	if !reflect.DeepEqual(*out2, *ch) {
		t.Fatalf("empty plan/rewrite/placements changed the tree")
	}
}

func TestApplyFoldsEverything(t *testing.T) {
	_, ch, us := load(t)
	rw := rewrite.NewMap()
	rw.Basis["p1"] = "Handen wassen en handschoenen dragen horen bij elkaar."
	rw.Praktijk["p2#praktijk"] = "Nieuwe praktijk."
	rw.ExistingVerdieping["p3#verdieping"] = "Herschreven verdieping."
	rw.Praktijk["p1"] = "Gegenereerde praktijk."
	sk := &plan.Skeleton{Headings: map[string]string{"p2": "Schoon werken"}}
	figs := []book.Figure{{Src: "fig/a.png", Caption: "Handen"}, {Src: "fig/elders.png"}}
	place := map[string]string{"fig/a.png": "p2", "fig/elders.png": "p99"}

	before, _ := book.Decode([]byte(chapterJSON))
	out, stats, err := Apply(ch, Input{Units: us, Skeleton: sk, Rewrites: rw, Figures: figs, Placements: place})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(*ch, before.Chapters[0]) {
		t.Fatalf("input chapter mutated")
	}
	blocks := out.Sections[0].Blocks
	if len(blocks) != 3 {
		t.Fatalf("blocks: want=3 got=%d", len(blocks))
	}
	p1 := blocks[0]
	if p1.ID != "p1" || p1.Basis != rw.Basis["p1"] || len(p1.Images) != 1 || p1.Images[0].Src != "img/l1.png" || p1.Praktijk != "Gegenereerde praktijk." {
		t.Fatalf("composite intro: %+v", p1)
	}
	wrap := blocks[1]
	if wrap.Type != book.BlockSubparagraph || wrap.Title != "Schoon werken" || wrap.Blocks[0].ID != "p2" {
		t.Fatalf("heading wrap: %+v", wrap)
	}
	p2 := wrap.Blocks[0]
	if p2.Praktijk != "Nieuwe praktijk." || len(p2.Images) != 1 || p2.Images[0].Src != "fig/a.png" {
		t.Fatalf("p2: %+v", p2)
	}
	p3 := blocks[2].Blocks[0]
	if p3.Verdieping != "Herschreven verdieping." || !strings.HasPrefix(p3.Basis, "Zeep doodt") {
		t.Fatalf("p3: %+v", p3)
	}
	if stats.CompositesMerged != 1 || stats.HeadingsWrapped != 1 || stats.FiguresAttached != 1 || stats.FiguresUnplaced != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestApplyDeepeningBecomesBox(t *testing.T) {
	_, ch, us := load(t)
	rw := rewrite.NewMap()
	rw.Verdieping["p2"] = "Verdiepende uitleg."
	out, stats, err := Apply(ch, Input{Units: us, Skeleton: &plan.Skeleton{Deepening: []string{"p2"}}, Rewrites: rw})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p2 := out.Sections[0].Blocks[2]
	if p2.ID != "p2" || p2.Basis != "" || p2.Verdieping != "Verdiepende uitleg." || p2.Praktijk != "Oude praktijk." {
		t.Fatalf("p2: %+v", p2)
	}
	if stats.BoxesWritten != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestApplyRejectsEmptyParagraph(t *testing.T) {
	_, ch, us := load(t)
	rw := rewrite.NewMap()
	rw.Basis["p2"] = "   "
	_, _, err := Apply(ch, Input{Units: us, Rewrites: rw})
	if joberr.KindOf(err) != joberr.KindContract {
		t.Fatalf("want contract error got %v", err)
	}
}

func TestHTMLMarkup(t *testing.T) {
	b, ch, us := load(t)
	rw := rewrite.NewMap()
	rw.Basis["p2"] = "Met <strong>nadruk</strong> & <script>x</script>.\n\nTweede alinea."
	out, _, err := Apply(ch, Input{Units: us, Rewrites: rw})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	doc, err := HTML(b, []book.Chapter{*out}, book.DesignTokens{"color-primary": "#004488"})
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	s := string(doc)
	for _, want := range []string{
		`<html lang="nl">`,
		`--color-primary: #004488;`,
		`<p>Met <strong>nadruk</strong> &amp; &lt;script&gt;x&lt;/script&gt;.</p>`,
		`<p>Tweede alinea.</p>`,
		`<aside class="box box-praktijk">`,
		`<aside class="box box-verdieping">`,
		`<ul class="list" id="c1-l1">`,
		`<section class="subparagraph" id="c1-sp1">`,
		`<div class="paragraph" id="c1-p3">`,
		`<img src="img/l1.png" alt="">`,
		`<h3 class="subparagraph-title"><span class="subparagraph-number">1.1.1</span> Zeep</h3>`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("html missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "<script>") {
		t.Fatalf("unescaped script tag")
	}
}

func TestHTMLScopesBlockIDsByChapter(t *testing.T) {
	b := &book.Book{Title: "Zorg", Chapters: []book.Chapter{
		{Number: 1, Title: "Een", Sections: []book.Section{{Blocks: []book.Block{{Type: book.BlockParagraph, ID: "p1", Basis: "Eerste."}}}}},
		{Number: 2, Title: "Twee", Sections: []book.Section{{Blocks: []book.Block{{Type: book.BlockParagraph, ID: "p1", Basis: "Tweede."}}}}},
	}}
	doc, err := HTML(b, b.Chapters, nil)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	s := string(doc)
	for _, want := range []string{`id="c1-p1"`, `id="c2-p1"`} {
		if strings.Count(s, want) != 1 {
			t.Fatalf("want one %s in:\n%s", want, s)
		}
	}
	if strings.Contains(s, `id="p1"`) {
		t.Fatalf("unscoped block id in html")
	}
}

func TestSrcFilter(t *testing.T) {
	cases := map[string]string{
		"img/a.png":              "img/a.png",
		"https://cdn/x.png":      "https://cdn/x.png",
		"data:image/png;base64,": "data:image/png;base64,",
		"javascript:alert(1)":    "#invalid",
	}
	for in, want := range cases {
		if got := string(src(in)); got != want {
			t.Fatalf("src(%q): want=%q got=%q", in, want, got)
		}
	}
}
