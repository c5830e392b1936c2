package render

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/yungbote/bookgen-worker/internal/platform/pdfrender"
)

// LocalImageRefs returns the distinct <img src> values that point at local
// files, in document order.
func LocalImageRefs(doc []byte) []string {
	var out []string
	seen := map[string]bool{}
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "img" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "src" {
				src := strings.TrimSpace(string(val))
				if src != "" && !pdfrender.IsRemoteRef(src) && !seen[src] {
					seen[src] = true
					out = append(out, src)
				}
			}
			if !more {
				break
			}
		}
	}
}

// ReplaceImageSrcs rewrites <img src> values found in repl. Every other
// token is copied byte for byte.
func ReplaceImageSrcs(doc []byte, repl map[string]string) ([]byte, error) {
	if len(repl) == 0 {
		return doc, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(doc))
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return buf.Bytes(), nil
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			buf.Write(raw)
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			buf.Write(raw)
			continue
		}
		changed := false
		for i, a := range tok.Attr {
			if a.Key != "src" {
				continue
			}
			if to, ok := repl[strings.TrimSpace(a.Val)]; ok {
				tok.Attr[i].Val = to
				changed = true
			}
		}
		if !changed {
			buf.Write(raw)
			continue
		}
		buf.WriteString(tok.String())
	}
}
