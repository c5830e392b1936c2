// Package llm defines the provider contract shared by the OpenAI and Gemini
// backends and the helpers pipeline stages use to call them.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
)

type Provider interface {
	Name() string
	Model() string
	GenerateText(ctx context.Context, system, user string) (string, error)
	// GenerateJSON returns the response as a JSON object. Implementations run
	// the raw model text through jsonx.ParseObject.
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// ErrContract marks output that violates the requested shape: refusals,
// empty output, or text with no JSON object in it.
var ErrContract = errors.New("model contract violation")

// Request is a rendered prompt ready for a provider call.
type Request struct {
	Name       string
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

// GenerateInto performs a JSON call and decodes the object into out.
// Failures are classified for the job loop under stage.
func GenerateInto(ctx context.Context, p Provider, stage string, req Request, out any) error {
	if p == nil {
		return joberr.New(joberr.KindInternal, stage, errors.New("no provider configured"))
	}
	obj, err := p.GenerateJSON(ctx, req.System, req.User, req.SchemaName, req.Schema)
	if err != nil {
		return Classify(stage, fmt.Errorf("%s %s: %w", p.Name(), req.Name, err))
	}
	if err := Decode(obj, out); err != nil {
		return joberr.New(joberr.KindContract, stage, fmt.Errorf("%s %s: %w", p.Name(), req.Name, err))
	}
	return nil
}

// GenerateText performs a text call; empty output is a contract error.
func GenerateText(ctx context.Context, p Provider, stage string, req Request) (string, error) {
	if p == nil {
		return "", joberr.New(joberr.KindInternal, stage, errors.New("no provider configured"))
	}
	text, err := p.GenerateText(ctx, req.System, req.User)
	if err != nil {
		return "", Classify(stage, fmt.Errorf("%s %s: %w", p.Name(), req.Name, err))
	}
	if strings.TrimSpace(text) == "" {
		return "", joberr.New(joberr.KindContract, stage, fmt.Errorf("%s %s: empty output", p.Name(), req.Name))
	}
	return text, nil
}

// Decode converts a generic JSON object into a typed value.
func Decode(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrContract, err)
	}
	return nil
}

// Classify maps a provider error onto the job error taxonomy.
func Classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	var je *joberr.Error
	if errors.As(err, &je) {
		return err
	}
	switch {
	case errors.Is(err, ErrContract):
		return joberr.New(joberr.KindContract, stage, err)
	case httpx.IsRetryableError(err):
		return joberr.New(joberr.KindTransient, stage, err)
	default:
		return joberr.New(joberr.KindInternal, stage, err)
	}
}
