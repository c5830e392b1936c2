package assemble

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
{{.CSS}}
</style>
</head>
<body>
{{- range .Chapters}}
{{- $scope := printf "c%d" .Number}}
<section class="chapter" id="chapter-{{.Number}}">
{{- with .Opener}}
<figure class="chapter-opener"><img src="{{src .Src}}" alt="{{.Alt}}"></figure>
{{- end}}
<h1 class="chapter-title"><span class="chapter-number">{{.Number}}</span> {{.Title}}</h1>
{{- range .Sections}}
<section class="section">
<h2 class="section-title">{{if .Number}}<span class="section-number">{{.Number}}</span> {{end}}{{.Title}}</h2>
{{- template "blocks" (scoped $scope .Blocks)}}
</section>
{{- end}}
</section>
{{- end}}
</body>
</html>
{{define "blocks"}}{{range .}}{{template "block" .}}{{end}}{{end}}
{{define "block"}}
{{- if eq .Type "subparagraph"}}
<section class="subparagraph" id="{{.Scope}}-{{.ID}}">
<h3 class="subparagraph-title">{{if .Number}}<span class="subparagraph-number">{{.Number}}</span> {{end}}{{.Title}}</h3>
{{- template "blocks" (scoped .Scope .Blocks)}}
</section>
{{- else if eq .Type "paragraph"}}
<div class="paragraph" id="{{.Scope}}-{{.ID}}">
{{- range paras .Basis}}
<p>{{.}}</p>
{{- end}}
{{- range .Images}}{{template "figure" .}}{{end}}
{{- if .Verdieping}}
<aside class="box box-verdieping"><div class="box-title">Verdieping</div>
{{- range paras .Verdieping}}<p>{{.}}</p>{{end}}</aside>
{{- end}}
{{- if .Praktijk}}
<aside class="box box-praktijk"><div class="box-title">In de praktijk</div>
{{- range paras .Praktijk}}<p>{{.}}</p>{{end}}</aside>
{{- end}}
</div>
{{- else if eq .Type "steps"}}
<ol class="steps" id="{{.Scope}}-{{.ID}}">
{{- range .Items}}<li>{{inline .}}</li>{{end}}
</ol>
{{- range .Images}}{{template "figure" .}}{{end}}
{{- else}}
<ul class="list" id="{{.Scope}}-{{.ID}}">
{{- range .Items}}<li>{{inline .}}</li>{{end}}
</ul>
{{- range .Images}}{{template "figure" .}}{{end}}
{{- end}}
{{- end}}
{{define "figure"}}
<figure class="figure{{if .Placeholder}} placeholder{{end}}"{{if .Width}} data-width="{{.Width}}"{{end}}>
<img src="{{src .Src}}" alt="{{.Alt}}">
{{- if or .Caption .FigureNumber}}
<figcaption>{{if .FigureNumber}}<span class="figure-number">Figuur {{.FigureNumber}}</span> {{end}}{{inline .Caption}}</figcaption>
{{- end}}
</figure>
{{- end}}`

const baseCSS = `.box { break-inside: avoid; }
.paragraph > figure img, .figure img { max-width: 100%; }
`

var (
	pageTmpl = template.Must(template.New("page").Funcs(template.FuncMap{
		"inline": inline,
		"paras":  paras,
		"scoped": scoped,
		"src":    src,
	}).Parse(pageTemplate))

	allowedTag = regexp.MustCompile(`&lt;(/?)(strong|em|b|i|sup|sub|br\s*/?)&gt;`)
	paraBreak  = regexp.MustCompile(`\n\s*\n`)
	schemeRe   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// inline escapes s but keeps the small set of inline tags the rewriter and
// canonical text use.
func inline(s string) template.HTML {
	esc := html.EscapeString(strings.TrimSpace(s))
	esc = allowedTag.ReplaceAllString(esc, "<$1$2>")
	esc = strings.ReplaceAll(esc, "\n", "<br>")
	return template.HTML(esc)
}

func paras(s string) []template.HTML {
	var out []template.HTML
	for _, p := range paraBreak.Split(strings.TrimSpace(s), -1) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, inline(p))
	}
	return out
}

// src passes relative paths, http(s) URLs and image data URIs.
func src(s string) template.URL {
	s = strings.TrimSpace(s)
	low := strings.ToLower(s)
	if !schemeRe.MatchString(s) ||
		strings.HasPrefix(low, "http://") ||
		strings.HasPrefix(low, "https://") ||
		strings.HasPrefix(low, "data:image/") {
		return template.URL(s)
	}
	return template.URL("#invalid")
}

// scopedBlock carries the chapter scope down to nested blocks. Block ids are
// only unique within a chapter, so element ids are prefixed with it.
type scopedBlock struct {
	book.Block
	Scope string
}

func scoped(scope string, blocks []book.Block) []scopedBlock {
	out := make([]scopedBlock, len(blocks))
	for i := range blocks {
		out[i] = scopedBlock{Block: blocks[i], Scope: scope}
	}
	return out
}

type page struct {
	Lang     string
	Title    string
	CSS      template.CSS
	Chapters []book.Chapter
}

// HTML renders chapters as one document. Design tokens become CSS custom
// properties on :root.
func HTML(b *book.Book, chapters []book.Chapter, tokens book.DesignTokens) ([]byte, error) {
	lang := strings.TrimSpace(b.Language)
	if lang == "" {
		lang = "nl"
	}
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, page{
		Lang:     lang,
		Title:    b.Title,
		CSS:      template.CSS(tokens.CSS() + baseCSS),
		Chapters: chapters,
	})
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}
