package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type traced struct {
	inner Provider
	log   *logger.Logger
}

// Traced wraps p so every call opens a span and logs its duration.
func Traced(p Provider, log *logger.Logger) Provider {
	if p == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	return &traced{inner: p, log: log.With("provider", p.Name(), "model", p.Model())}
}

func (t *traced) Name() string  { return t.inner.Name() }
func (t *traced) Model() string { return t.inner.Model() }

func (t *traced) GenerateText(ctx context.Context, system, user string) (out string, err error) {
	ctx, span := observability.StartSpan(ctx, "llm.generate_text",
		attribute.String("llm.provider", t.inner.Name()),
		attribute.String("llm.model", t.inner.Model()),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		t.log.Debug("llm text call", "duration_ms", time.Since(start).Milliseconds(), "chars", len(out), "error", errString(err))
	}()
	return t.inner.GenerateText(ctx, system, user)
}

func (t *traced) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (out map[string]any, err error) {
	ctx, span := observability.StartSpan(ctx, "llm.generate_json",
		attribute.String("llm.provider", t.inner.Name()),
		attribute.String("llm.model", t.inner.Model()),
		attribute.String("llm.schema", schemaName),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		t.log.Debug("llm json call", "schema", schemaName, "duration_ms", time.Since(start).Milliseconds(), "error", errString(err))
	}()
	return t.inner.GenerateJSON(ctx, system, user, schemaName, schema)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
