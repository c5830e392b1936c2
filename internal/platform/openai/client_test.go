package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

func outputBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"output": []any{map[string]any{
			"type": "message", "role": "assistant",
			"content": []any{map[string]any{"type": "output_text", "text": text}},
		}},
		"usage": map[string]any{"input_tokens": 3, "output_tokens": 4},
	})
	return string(b)
}

func newTestClient(t *testing.T, srv *httptest.Server, temp *float64) *Client {
	t.Helper()
	c, err := NewClient(logger.Nop(), Config{APIKey: "k", BaseURL: srv.URL, Model: "gpt-test", MaxRetries: 3, Temperature: temp})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.retryBase = time.Millisecond
	return c
}

func TestGenerateJSONSendsStrictSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = io.WriteString(w, outputBody("```json\n{\"ok\": true}\n```"))
	}))
	defer srv.Close()

	obj, err := newTestClient(t, srv, nil).GenerateJSON(context.Background(), "sys", "user", "sample", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if obj["ok"] != true {
		t.Fatalf("obj: got=%v", obj)
	}
	format, _ := got["text"].(map[string]any)["format"].(map[string]any)
	if format["type"] != "json_schema" || format["strict"] != true || format["name"] != "sample" {
		t.Fatalf("format: got=%v", format)
	}
	if _, ok := got["temperature"]; ok {
		t.Fatalf("temperature must be omitted when unset")
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, outputBody("hello"))
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv, nil).GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "hello" || calls != 3 {
		t.Fatalf("text=%q calls=%d", text, calls)
	}
}

func TestDoesNotRetryUnauthorized(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv, nil).GenerateText(context.Background(), "s", "u"); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestTemperatureFallbackLearnsModel(t *testing.T) {
	var withTemp, calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), `"temperature"`) {
			atomic.AddInt32(&withTemp, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model."}}`)
			return
		}
		_, _ = io.WriteString(w, outputBody("ok"))
	}))
	defer srv.Close()

	temp := 0.2
	c := newTestClient(t, srv, &temp)
	for i := 0; i < 2; i++ {
		if _, err := c.GenerateText(context.Background(), "s", "u"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if withTemp != 1 || calls != 3 {
		t.Fatalf("withTemp=%d calls=%d", withTemp, calls)
	}
}

func TestRefusalIsContractError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":[{"type":"message","role":"assistant","content":[{"type":"refusal","refusal":"no"}]}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).GenerateJSON(context.Background(), "s", "u", "x", map[string]any{})
	if !errors.Is(err, llm.ErrContract) {
		t.Fatalf("want ErrContract got %v", err)
	}
}

func TestNoTempRules(t *testing.T) {
	m, p := parseNoTempModelRules("o1-*, GPT-5 ,")
	if !m["gpt-5"] || len(p) != 1 || p[0] != "o1" {
		t.Fatalf("rules: m=%v p=%v", m, p)
	}
}
