package book

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DesignTokens is a flat name -> CSS value map.
type DesignTokens map[string]string

var tokenNameRe = regexp.MustCompile(`[^a-z0-9-]+`)

// DecodeDesignTokens flattens nested token JSON using "-" as separator.
func DecodeDesignTokens(data []byte) (DesignTokens, error) {
	if len(data) == 0 {
		return DesignTokens{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode design tokens: %w", err)
	}
	out := DesignTokens{}
	flattenTokens("", raw, out)
	return out, nil
}

func flattenTokens(prefix string, in map[string]any, out DesignTokens) {
	for k, v := range in {
		name := tokenNameRe.ReplaceAllString(strings.ToLower(k), "-")
		if prefix != "" {
			name = prefix + "-" + name
		}
		switch t := v.(type) {
		case map[string]any:
			if val, ok := t["value"]; ok {
				out[name] = fmt.Sprint(val)
				continue
			}
			flattenTokens(name, t, out)
		case string:
			out[name] = t
		case float64, bool:
			out[name] = fmt.Sprint(t)
		}
	}
}

// CSS renders the tokens as custom properties on :root.
func (t DesignTokens) CSS() string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, k := range keys {
		v := strings.NewReplacer(";", "", "{", "", "}", "", "<", "").Replace(t[k])
		fmt.Fprintf(&b, "  --%s: %s;\n", k, v)
	}
	b.WriteString("}\n")
	return b.String()
}
