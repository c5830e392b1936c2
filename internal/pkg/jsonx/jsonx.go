// Package jsonx parses near-valid JSON produced by language models.
//
// Recovery order: direct decode, fence stripping, raw control characters
// inside string literals escaped, trailing commas removed, then the first
// balanced object or array extracted by brace matching.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no json value found")

// ParseObject decodes text into a JSON object.
func ParseObject(text string) (map[string]any, error) {
	var out map[string]any
	if err := Unmarshal(text, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrNoJSON)
	}
	return out, nil
}

// Unmarshal decodes text into out, applying repairs until one succeeds.
func Unmarshal(text string, out any) error {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ErrNoJSON
	}
	var firstErr error
	for _, cand := range candidates(raw) {
		err := json.Unmarshal([]byte(cand), out)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ErrNoJSON
	}
	return fmt.Errorf("tolerant json parse: %w", firstErr)
}

func candidates(raw string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(raw)
	unfenced := StripFences(raw)
	add(unfenced)
	repaired := RemoveTrailingCommas(EscapeControlInStrings(unfenced))
	add(repaired)
	if ext, ok := ExtractFirst(repaired); ok {
		add(ext)
	}
	if ext, ok := ExtractFirst(unfenced); ok {
		add(RemoveTrailingCommas(EscapeControlInStrings(ext)))
	}
	return out
}

// StripFences removes a surrounding ```json ... ``` block.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	if j := strings.LastIndex(t, "```"); j >= 0 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}

// EscapeControlInStrings escapes raw newlines, carriage returns and tabs that
// appear inside string literals.
func EscapeControlInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inStr := false
	esc := false
	for _, r := range s {
		if inStr {
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == '"':
				inStr = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\r':
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteRune(r)
			continue
		}
		if r == '"' {
			inStr = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RemoveTrailingCommas drops commas directly preceding a closing bracket.
func RemoveTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	esc := false
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == '"':
				inStr = false
			}
			b.WriteRune(r)
			continue
		}
		if r == '"' {
			inStr = true
			b.WriteRune(r)
			continue
		}
		if r == ',' {
			j := i + 1
			for j < len(rs) && (rs[j] == ' ' || rs[j] == '\n' || rs[j] == '\t' || rs[j] == '\r') {
				j++
			}
			if j < len(rs) && (rs[j] == '}' || rs[j] == ']') {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExtractFirst returns the first balanced {...} or [...] value in s.
func ExtractFirst(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
