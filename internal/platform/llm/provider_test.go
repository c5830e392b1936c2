package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/llm/llmtest"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

func TestGenerateIntoDecodesFencedOutput(t *testing.T) {
	p := llmtest.New().OnJSON("ids", "```json\n{\"ids\": [\"a\", \"b\",]}\n```")
	var out struct {
		IDs []string `json:"ids"`
	}
	err := llm.GenerateInto(context.Background(), llm.Traced(p, logger.Nop()), "plan", llm.Request{Name: "plan", SchemaName: "ids"}, &out)
	if err != nil {
		t.Fatalf("GenerateInto: %v", err)
	}
	if len(out.IDs) != 2 || out.IDs[0] != "a" {
		t.Fatalf("ids: got=%v", out.IDs)
	}
}

func TestGenerateIntoGarbageIsContractError(t *testing.T) {
	p := llmtest.New().OnJSON("ids", "Sorry, I can't do that.")
	var out map[string]any
	err := llm.GenerateInto(context.Background(), p, "plan", llm.Request{SchemaName: "ids"}, &out)
	if joberr.KindOf(err) != joberr.KindContract {
		t.Fatalf("kind: want=%s got=%s (%v)", joberr.KindContract, joberr.KindOf(err), err)
	}
	if joberr.StageOf(err, "") != "plan" {
		t.Fatalf("stage: got=%q", joberr.StageOf(err, ""))
	}
}

func TestGenerateIntoWrongShapeIsContractError(t *testing.T) {
	p := llmtest.New().OnJSON("ids", `{"ids": "not-a-list"}`)
	var out struct {
		IDs []string `json:"ids"`
	}
	err := llm.GenerateInto(context.Background(), p, "plan", llm.Request{SchemaName: "ids"}, &out)
	if joberr.KindOf(err) != joberr.KindContract {
		t.Fatalf("kind: want=%s got=%s", joberr.KindContract, joberr.KindOf(err))
	}
}

func TestClassifyTransient(t *testing.T) {
	err := llm.Classify("rewrite", &httpx.StatusError{StatusCode: 503})
	if joberr.KindOf(err) != joberr.KindTransient {
		t.Fatalf("kind: want=%s got=%s", joberr.KindTransient, joberr.KindOf(err))
	}
	err = llm.Classify("rewrite", errors.New("http 400"))
	if joberr.KindOf(err) != joberr.KindInternal {
		t.Fatalf("kind: want=%s got=%s", joberr.KindInternal, joberr.KindOf(err))
	}
}

func TestGenerateTextEmptyIsContract(t *testing.T) {
	p := llmtest.New()
	p.Text = []string{"   "}
	_, err := llm.GenerateText(context.Background(), p, "rewrite", llm.Request{Name: "plain"})
	if joberr.KindOf(err) != joberr.KindContract {
		t.Fatalf("kind: want=%s got=%s", joberr.KindContract, joberr.KindOf(err))
	}
}

func TestSetSelect(t *testing.T) {
	a := llmtest.New()
	a.ProviderName = "openai"
	b := llmtest.New()
	b.ProviderName = "gemini"
	s := llm.NewSet("openai", a, b)
	p, err := s.Select("")
	if err != nil || p.Name() != "openai" {
		t.Fatalf("default: got=%v err=%v", p, err)
	}
	if p, _ := s.Select("Gemini"); p == nil || p.Name() != "gemini" {
		t.Fatalf("gemini: got=%v", p)
	}
	if _, err := s.Select("anthropic"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
