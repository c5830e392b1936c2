// Package prompts holds the prompt catalogue for the chapter pipeline. The
// bodies live in templates.yaml; Build renders one into an llm.Request.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/promptstyle"
)

//go:embed templates.yaml
var catalogue []byte

type Validator func(Input) error

type Template struct {
	Name       PromptName
	Version    int
	SchemaName string
	Schema     func() map[string]any
	System     func(Input) string
	User       func(Input) string
	Validate   Validator
}

// decl is the YAML declaration of one prompt.
type decl struct {
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`
	Schema  string `yaml:"schema"`
	System  string `yaml:"system"`
	User    string `yaml:"user"`
}

var registry = map[PromptName]Template{}

var funcs = template.FuncMap{
	"bullets": func(lines []string) string {
		var b strings.Builder
		for i, l := range lines {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(l))
		}
		return b.String()
	},
}

func init() {
	if err := Load(catalogue); err != nil {
		panic(err)
	}
	setValidator(PromptRewritePlain, requireFacts)
	setValidator(PromptRewriteDeepening, requireFacts)
	setValidator(PromptRewritePraktijk, requireFacts)
	setValidator(PromptRewriteExistingDeepening, requireFacts)
	setValidator(PromptRewriteListToProse, func(in Input) error {
		if len(in.Items) == 0 {
			return fmt.Errorf("list items required")
		}
		return nil
	})
	setValidator(PromptPraktijkBatch, requireJSON(func(in Input) string { return in.TargetsJSON }, "targets"))
	setValidator(PromptHyphenationQA, requireJSON(func(in Input) string { return in.BlocksJSON }, "blocks"))
	setValidator(PromptHyphenationFix, requireJSON(func(in Input) string { return in.BlocksJSON }, "blocks"))
	setValidator(PromptFigurePlacement, requireJSON(func(in Input) string { return in.ContextJSON }, "context"))
}

// Load parses a YAML catalogue and registers every entry in it.
func Load(data []byte) error {
	var decls []decl
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return fmt.Errorf("parse prompt catalogue: %w", err)
	}
	for _, s := range decls {
		t, err := makeTemplate(s)
		if err != nil {
			return err
		}
		Register(t)
	}
	return nil
}

func makeTemplate(s decl) (Template, error) {
	name := PromptName(strings.TrimSpace(s.Name))
	if name == "" {
		return Template{}, fmt.Errorf("missing prompt name")
	}
	if s.Version <= 0 {
		return Template{}, fmt.Errorf("invalid version for %s", name)
	}
	var schemaFn func() map[string]any
	if s.Schema != "" {
		fn, ok := schemas[s.Schema]
		if !ok {
			return Template{}, fmt.Errorf("%s: unknown schema %q", name, s.Schema)
		}
		schemaFn = fn
	}
	sysT, err := template.New("system").Funcs(funcs).Option("missingkey=zero").Parse(s.System)
	if err != nil {
		return Template{}, fmt.Errorf("%s system template parse: %w", name, err)
	}
	userT, err := template.New("user").Funcs(funcs).Option("missingkey=zero").Parse(s.User)
	if err != nil {
		return Template{}, fmt.Errorf("%s user template parse: %w", name, err)
	}
	render := func(t *template.Template, in Input) string {
		var b bytes.Buffer
		_ = t.Execute(&b, in)
		return strings.TrimSpace(b.String())
	}
	return Template{
		Name:       name,
		Version:    s.Version,
		SchemaName: s.Schema,
		Schema:     schemaFn,
		System:     func(in Input) string { return render(sysT, in) },
		User:       func(in Input) string { return render(userT, in) },
	}, nil
}

// Register registers a compiled Template, replacing any previous one.
func Register(t Template) {
	registry[t.Name] = t
}

func setValidator(name PromptName, v Validator) {
	t, ok := registry[name]
	if !ok {
		return
	}
	t.Validate = v
	registry[name] = t
}

// Build returns a request ready for llm.GenerateInto or llm.GenerateText.
func Build(name PromptName, in Input) (llm.Request, error) {
	t, ok := registry[name]
	if !ok {
		return llm.Request{}, fmt.Errorf("unknown prompt: %s", string(name))
	}
	if t.System == nil || t.User == nil {
		return llm.Request{}, fmt.Errorf("prompt %s missing system/user renderers", string(name))
	}
	if t.Validate != nil {
		if err := t.Validate(in); err != nil {
			return llm.Request{}, fmt.Errorf("%s: %w", string(name), err)
		}
	}
	mode := "text"
	var schema map[string]any
	if t.Schema != nil {
		mode = "json"
		schema = t.Schema()
	}
	return llm.Request{
		Name:       fmt.Sprintf("%s@v%d", t.Name, t.Version),
		System:     promptstyle.ApplySystem(t.System(in), mode),
		User:       strings.TrimSpace(t.User(in)),
		SchemaName: t.SchemaName,
		Schema:     schema,
	}, nil
}

func requireFacts(in Input) error {
	if len(in.Facts) == 0 {
		return fmt.Errorf("facts required")
	}
	return nil
}

func requireJSON(get func(Input) string, what string) Validator {
	return func(in Input) error {
		v := strings.TrimSpace(get(in))
		if v == "" || v == "[]" || v == "{}" {
			return fmt.Errorf("%s required", what)
		}
		return nil
	}
}
