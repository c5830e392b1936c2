package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const oneShotCanonical = `{
  "id": "b1",
  "version": "v1",
  "title": "Zorg en welzijn",
  "language": "nl",
  "chapters": [{
    "number": 1,
    "title": "Hygiëne",
    "sections": [{
      "number": "1.1",
      "title": "Handen wassen",
      "blocks": [
        {"type": "paragraph", "id": "p1", "basisText": "Handen wassen doe je met water en zeep."}
      ]
    }]
  }]
}`

func newRenderApp(t *testing.T, status int) *App {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 test"))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.HTTP.Addr = ""
	cfg.Render.Backend = "hosted"
	cfg.Render.HostedEndpoint = srv.URL
	cfg.Render.HostedRetries = 0

	a, err := New(context.Background(), cfg, Options{Logger: logger.Nop(), SkipServer: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func writeCanonical(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.json")
	if err := os.WriteFile(path, []byte(oneShotCanonical), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func artifactKinds(arts []*jobs.JobArtifact) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		out = append(out, a.Kind)
	}
	sort.Strings(out)
	return out
}

func TestRenderOnceRenderOnly(t *testing.T) {
	a := newRenderApp(t, http.StatusOK)
	out, err := a.RenderOnce(context.Background(), RenderRequest{
		BookID:      "b1",
		BookVersion: "v1",
		Inputs:      map[string]string{InputCanonical: writeCanonical(t)},
		Payload:     jobs.RenderPayload{Mode: jobs.ModeRenderOnly},
	})
	if err != nil {
		t.Fatalf("RenderOnce: %v", err)
	}
	if out.Job.Status != jobs.StatusDone || out.Job.Progress != 100 {
		t.Fatalf("job: status=%q progress=%d", out.Job.Status, out.Job.Progress)
	}
	kinds := artifactKinds(out.Artifacts)
	want := map[string]bool{"pdf": false, "html": false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("artifact %q missing from %v", k, kinds)
		}
	}
}

func TestRenderOnceReportsFailedRender(t *testing.T) {
	a := newRenderApp(t, http.StatusBadRequest)
	out, err := a.RenderOnce(context.Background(), RenderRequest{
		BookID:  "b1",
		Inputs:  map[string]string{InputCanonical: writeCanonical(t)},
		Payload: jobs.RenderPayload{Mode: jobs.ModeRenderOnly},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if out == nil || out.Job.Status != jobs.StatusFailed {
		t.Fatalf("job should be failed: %+v", out)
	}
	for _, k := range artifactKinds(out.Artifacts) {
		if k == "pdf" {
			t.Fatalf("failed render must not upload a pdf")
		}
	}
}

func TestRenderOnceRequiresCanonical(t *testing.T) {
	a := newRenderApp(t, http.StatusOK)
	if _, err := a.RenderOnce(context.Background(), RenderRequest{Inputs: map[string]string{}}); err == nil {
		t.Fatalf("expected error")
	}
	_, err := a.RenderOnce(context.Background(), RenderRequest{
		Inputs: map[string]string{InputCanonical: filepath.Join(t.TempDir(), "missing.json")},
	})
	if err == nil {
		t.Fatalf("expected read error")
	}
}
