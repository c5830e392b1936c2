package gcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/pkg/dbctx"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type flakyBackend struct {
	*DirBackend
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBackend) CreateIfAbsent(ctx context.Context, key string, data []byte, ct string) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return &httpx.StatusError{StatusCode: 503}
	}
	return f.DirBackend.CreateIfAbsent(ctx, key, data, ct)
}

type memRecorder struct {
	rows []*jobs.JobArtifact
}

func (m *memRecorder) Create(_ dbctx.Context, a *jobs.JobArtifact) error {
	m.rows = append(m.rows, a)
	return nil
}

func testJob() *jobs.JobRun {
	ch := 2
	return &jobs.JobRun{ID: uuid.New(), BookID: "bk", BookVersion: "v3", ChapterIndex: &ch}
}

func TestDupName(t *testing.T) {
	cases := map[string]string{"book.pdf": "book__dup3.pdf", "render": "render__dup3", "a.b.json": "a.b__dup3.json"}
	for in, want := range cases {
		if got := DupName(in, 3); got != want {
			t.Fatalf("DupName(%q): want=%q got=%q", in, want, got)
		}
	}
	if DupName("x.pdf", 0) != "x.pdf" {
		t.Fatalf("n=0 must keep name")
	}
}

func TestArtifactStorePutCollisionUsesSuffix(t *testing.T) {
	dir, err := NewDirBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBackend: %v", err)
	}
	rec := &memRecorder{}
	store := NewArtifactStore(logger.Nop(), dir, rec, ArtifactStoreConfig{Prefix: "renders"})
	job := testJob()
	ctx := context.Background()

	first, err := store.Put(ctx, job, Artifact{Kind: jobs.ArtifactPDF, Name: "book.pdf", Data: []byte("%PDF-1")})
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	second, err := store.Put(ctx, job, Artifact{Kind: jobs.ArtifactPDF, Name: "book.pdf", Data: []byte("%PDF-2")})
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	wantFirst := "renders/bk/v3/chapter-03/" + job.ID.String() + "/book.pdf"
	if first.ObjectKey != wantFirst {
		t.Fatalf("first key: want=%q got=%q", wantFirst, first.ObjectKey)
	}
	if second.Name != "book__dup1.pdf" {
		t.Fatalf("second name: want=%q got=%q", "book__dup1.pdf", second.Name)
	}
	if first.SHA256 == second.SHA256 || len(first.SHA256) != 64 {
		t.Fatalf("sha256 not recorded per object: %q %q", first.SHA256, second.SHA256)
	}
	if first.ContentType != "application/pdf" {
		t.Fatalf("content type: got=%q", first.ContentType)
	}
	data, err := ReadAll(ctx, dir, first.ObjectKey)
	if err != nil || string(data) != "%PDF-1" {
		t.Fatalf("original overwritten: data=%q err=%v", data, err)
	}
	if len(rec.rows) != 2 {
		t.Fatalf("recorded: want=2 got=%d", len(rec.rows))
	}
}

func TestArtifactStoreGivesUpAfterMaxDup(t *testing.T) {
	dir, _ := NewDirBackend(t.TempDir())
	store := NewArtifactStore(logger.Nop(), dir, nil, ArtifactStoreConfig{MaxDup: 2})
	job := testJob()
	for i := 0; i < 3; i++ {
		if _, err := store.Put(context.Background(), job, Artifact{Kind: jobs.ArtifactHTML, Name: "c.html", Data: []byte("x")}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if _, err := store.Put(context.Background(), job, Artifact{Kind: jobs.ArtifactHTML, Name: "c.html", Data: []byte("x")}); err == nil {
		t.Fatalf("expected collision error")
	}
}

func TestArtifactStoreRetriesTransient(t *testing.T) {
	dir, _ := NewDirBackend(t.TempDir())
	flaky := &flakyBackend{DirBackend: dir, failures: 2}
	store := NewArtifactStore(logger.Nop(), flaky, nil, ArtifactStoreConfig{BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	if _, err := store.Put(context.Background(), testJob(), Artifact{Kind: jobs.ArtifactRenderLog, Name: "render.log", Data: []byte("ok")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("calls: want=3 got=%d", flaky.calls)
	}
}

func TestArtifactStoreRejectsEmpty(t *testing.T) {
	dir, _ := NewDirBackend(t.TempDir())
	store := NewArtifactStore(logger.Nop(), dir, nil, ArtifactStoreConfig{})
	if _, err := store.Put(context.Background(), testJob(), Artifact{Name: "x.pdf"}); err == nil {
		t.Fatalf("expected error for empty data")
	}
}

func TestDirBackendOpenMissing(t *testing.T) {
	dir, _ := NewDirBackend(t.TempDir())
	if _, err := dir.Open(context.Background(), "nope.json"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("want ErrObjectNotFound got %v", err)
	}
}
