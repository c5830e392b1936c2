package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Set holds the configured providers by name.
type Set struct {
	byName   map[string]Provider
	fallback string
}

func NewSet(defaultName string, providers ...Provider) *Set {
	s := &Set{byName: map[string]Provider{}, fallback: strings.ToLower(strings.TrimSpace(defaultName))}
	for _, p := range providers {
		if p != nil {
			s.byName[strings.ToLower(p.Name())] = p
		}
	}
	return s
}

// Select returns the named provider, or the default when name is empty.
func (s *Set) Select(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = s.fallback
	}
	if p, ok := s.byName[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("provider %q not configured (have %s)", key, strings.Join(s.Names(), ","))
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for k := range s.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
