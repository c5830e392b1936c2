// Package llmtest provides a scripted provider for tests and offline renders.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/bookgen-worker/internal/pkg/jsonx"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
)

type Call struct {
	Kind       string // "text" or "json"
	SchemaName string
	System     string
	User       string
}

// Provider answers from per-schema queues. The last queued answer repeats
// once a queue is drained. JSONFunc and TextFunc take precedence when set.
type Provider struct {
	ProviderName string
	ModelName    string

	JSON     map[string][]string
	Text     []string
	JSONFunc func(schemaName, user string) (string, error)
	TextFunc func(system, user string) (string, error)

	mu    sync.Mutex
	calls []Call
}

func New() *Provider {
	return &Provider{ProviderName: "fake", ModelName: "fake-1", JSON: map[string][]string{}}
}

func (p *Provider) Name() string  { return p.ProviderName }
func (p *Provider) Model() string { return p.ModelName }

// OnJSON queues raw answers for schemaName.
func (p *Provider) OnJSON(schemaName string, raw ...string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.JSON == nil {
		p.JSON = map[string][]string{}
	}
	p.JSON[schemaName] = append(p.JSON[schemaName], raw...)
	return p
}

func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsFor returns the JSON calls made with schemaName.
func (p *Provider) CallsFor(schemaName string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Kind == "json" && c.SchemaName == schemaName {
			out = append(out, c)
		}
	}
	return out
}

func (p *Provider) GenerateText(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Kind: "text", System: system, User: user})
	fn := p.TextFunc
	var out string
	if fn == nil {
		if len(p.Text) == 0 {
			p.mu.Unlock()
			return "", fmt.Errorf("llmtest: no text answer scripted")
		}
		out = p.Text[0]
		if len(p.Text) > 1 {
			p.Text = p.Text[1:]
		}
	}
	p.mu.Unlock()
	if fn != nil {
		return fn(system, user)
	}
	return out, nil
}

func (p *Provider) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Kind: "json", SchemaName: schemaName, System: system, User: user})
	fn := p.JSONFunc
	var raw string
	if fn == nil {
		q := p.JSON[schemaName]
		if len(q) == 0 {
			p.mu.Unlock()
			return nil, fmt.Errorf("llmtest: no answer scripted for %q", schemaName)
		}
		raw = q[0]
		if len(q) > 1 {
			p.JSON[schemaName] = q[1:]
		}
	}
	p.mu.Unlock()
	if fn != nil {
		var err error
		if raw, err = fn(schemaName, user); err != nil {
			return nil, err
		}
	}
	obj, err := jsonx.ParseObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrContract, err)
	}
	return obj, nil
}
