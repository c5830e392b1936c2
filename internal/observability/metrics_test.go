package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveLLMRequest("openai", "m", "json", "ok", time.Second, 1, 2)
	m.ObserveJob("book_render", "done", time.Second)
	m.AddMissingAssets(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil handler: want=503 got=%d", rec.Code)
	}
}

func TestLLMRequestCounted(t *testing.T) {
	m := newMetrics()
	m.ObserveLLMRequest("gemini", "gemini-1.5-pro", "json", "ok", 2*time.Second, 10, 20)
	m.ObserveLLMRequest("gemini", "gemini-1.5-pro", "json", "ok", time.Second, 0, 0)
	if got := testutil.ToFloat64(m.llmRequests.WithLabelValues("gemini", "gemini-1.5-pro", "json", "ok")); got != 2 {
		t.Fatalf("requests: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("gemini", "gemini-1.5-pro", "output")); got != 20 {
		t.Fatalf("output tokens: want=20 got=%v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := newMetrics()
	m.AddMissingAssets(1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bookgen_render_missing_assets_total 1") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders("a=1, bad ,b = 2,=x")
	if len(h) != 2 || h["a"] != "1" || h["b"] != "2" {
		t.Fatalf("headers: got=%v", h)
	}
	if ParseHeaders("") != nil {
		t.Fatalf("empty: want nil")
	}
}
