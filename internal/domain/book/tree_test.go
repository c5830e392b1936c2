package book

import (
	"strings"
	"testing"
)

const sampleBook = `{
  "id": "bk-1",
  "version": "v3",
  "title": "Zorg en Welzijn",
  "chapters": [{
    "number": 1,
    "title": "De cliënt",
    "sections": [{
      "number": "1.1",
      "title": "Communicatie",
      "blocks": [
        {"type": "paragraph", "id": "p1", "basisText": "Je leert in dit hoofdstuk het volgende:"},
        {"type": "list", "id": "l1", "items": ["luisteren", {"text": "samenvatten"}]},
        {"type": "subparagraph", "id": "s1", "number": "1.1.1", "title": "Non-verbaal", "content": [
          {"id": "p2", "basis": "Lichaamstaal zegt veel.", "images": [{"src": "fig1.png"}]}
        ]}
      ]
    }]
  }]
}`

func TestDecodeNormalizesVariants(t *testing.T) {
	b, err := Decode([]byte(sampleBook))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	blocks := b.Chapters[0].Sections[0].Blocks
	if blocks[0].Basis == "" {
		t.Fatalf("basisText alias not decoded")
	}
	if got := blocks[1].Items; len(got) != 2 || got[1] != "samenvatten" {
		t.Fatalf("items: got=%v", got)
	}
	sub := blocks[2]
	if sub.Type != BlockSubparagraph || len(sub.Blocks) != 1 {
		t.Fatalf("subparagraph content not decoded: %+v", sub)
	}
	if sub.Blocks[0].Type != BlockParagraph {
		t.Fatalf("untyped block: want=paragraph got=%q", sub.Blocks[0].Type)
	}
	if n := b.CountImages(); n != 1 {
		t.Fatalf("CountImages: want=1 got=%d", n)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := `{"chapters":[{"sections":[{"blocks":[{"type":"table","id":"t1"}]}]}]}`
	_, err := Decode([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), `unknown block type "table"`) {
		t.Fatalf("want unknown block type error, got %v", err)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	ch := Chapter{Number: 2, Sections: []Section{{Blocks: []Block{
		{Type: BlockParagraph, ID: "p1", Basis: "a"},
		{Type: BlockSubparagraph, ID: "s1", Blocks: []Block{{Type: BlockParagraph, ID: "p1", Basis: "b"}}},
	}}}}
	if err := ch.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate block id") {
		t.Fatalf("want duplicate id error, got %v", err)
	}
}

func TestWalkPath(t *testing.T) {
	b, err := Decode([]byte(sampleBook))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var got []string
	b.Chapters[0].Walk(func(path []string, blk *Block) bool {
		if blk.ID == "p2" {
			got = path
		}
		return true
	})
	if len(got) != 2 || got[0] != "1.1 Communicatie" || got[1] != "1.1.1 Non-verbaal" {
		t.Fatalf("path: got=%v", got)
	}
}

func TestValidateRenderable(t *testing.T) {
	ch := Chapter{Number: 1, Sections: []Section{{Blocks: []Block{{Type: BlockParagraph, ID: "p1", Basis: "  "}}}}}
	if err := ch.ValidateRenderable(); err == nil {
		t.Fatalf("expected empty base text error")
	}
}

func TestOverlayApply(t *testing.T) {
	b, _ := Decode([]byte(sampleBook))
	fixed := "Gecorrigeerde tekst."
	o := &Overlay{Blocks: map[string]OverlayEdit{"p2": {Basis: &fixed}}}
	if n := o.Apply(&b.Chapters[0]); n != 1 {
		t.Fatalf("Apply: want=1 got=%d", n)
	}
	if got := b.Chapters[0].Sections[0].Blocks[2].Blocks[0].Basis; got != fixed {
		t.Fatalf("basis: want=%q got=%q", fixed, got)
	}
}

func TestDecodeFigures(t *testing.T) {
	figs, err := DecodeFigures([]byte(`{"figures":[{"src":"a.png","caption":"Afbeelding 1.1"},{"src":"a.png"},{"src":""}]}`))
	if err != nil {
		t.Fatalf("DecodeFigures: %v", err)
	}
	if len(figs) != 1 || figs[0].Caption != "Afbeelding 1.1" {
		t.Fatalf("figures: got=%+v", figs)
	}
	bare, err := DecodeFigures([]byte(`[{"src":"b.png"}]`))
	if err != nil || len(bare) != 1 {
		t.Fatalf("bare array: err=%v figs=%+v", err, bare)
	}
}

func TestDesignTokensCSS(t *testing.T) {
	tokens, err := DecodeDesignTokens([]byte(`{"color":{"primary":{"value":"#004488"}},"font":{"body":"Inter"}}`))
	if err != nil {
		t.Fatalf("DecodeDesignTokens: %v", err)
	}
	css := tokens.CSS()
	if !strings.Contains(css, "--color-primary: #004488;") || !strings.Contains(css, "--font-body: Inter;") {
		t.Fatalf("css: got=%q", css)
	}
}
