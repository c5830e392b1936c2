package book_render

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	jobrt "github.com/yungbote/bookgen-worker/internal/jobs/runtime"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/assets"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/pipeline"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/render"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
)

const (
	StageProvider = "provider"
	StageUpload   = "upload"
	StageDone     = "done"
)

// ArtifactRef is one uploaded output as listed in the job result.
type ArtifactRef struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size_bytes"`
}

type Timing struct {
	ElapsedMS int64 `json:"elapsed_ms"`
	RenderMS  int64 `json:"render_ms"`
}

// Result is stored on job_run.result when the job is done.
type Result struct {
	Mode         string             `json:"mode"`
	Provider     string             `json:"provider,omitempty"`
	Model        string             `json:"model,omitempty"`
	Backend      string             `json:"backend"`
	Chapters     []pipeline.Summary `json:"chapters"`
	Assets       *assets.Report     `json:"assets,omitempty"`
	Placeholders int                `json:"placeholders,omitempty"`
	Missing      int                `json:"missing_assets"`
	Artifacts    []ArtifactRef      `json:"artifacts"`
	Timing       Timing             `json:"timing"`
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	pl, err := jc.Payload()
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}

	jc.Progress(StageLoad, 2, "downloading inputs")
	in, err := loadInputs(jc.Ctx, p.storage, pl, jc.Job)
	if err != nil {
		jc.Fail(StageLoad, err)
		return nil
	}

	var provider llm.Provider
	if pl.RewritesEnabled() {
		if p.providers == nil {
			jc.Fail(StageProvider, joberr.Input(StageProvider, "no providers configured"))
			return nil
		}
		provider, err = p.providers.Select(pl.Provider)
		if err != nil {
			jc.Fail(StageProvider, joberr.Input(StageProvider, "%v", err))
			return nil
		}
	}

	workDir, err := os.MkdirTemp(p.workRoot, "bookgen-"+jc.Job.ID.String()+"-")
	if err != nil {
		jc.Fail("workdir", joberr.New(joberr.KindInternal, "workdir", err))
		return nil
	}
	if p.keepWorkDir {
		jc.Log.Info("keeping work dir", "dir", workDir)
	} else {
		defer os.RemoveAll(workDir)
	}

	sink := &artifactSink{store: p.artifacts, job: jc.Job}
	opt := pipeline.OptionsFromPayload(pl, jc.Job, p.base)
	out, runErr := p.engine.Run(jc.Ctx, provider, in, opt, workDir, jc, sink)

	if out != nil && out.Render != nil {
		jc.Progress(StageUpload, 95, "uploading artifacts")
		if err := p.uploadRender(jc.Ctx, sink, out.Render, runErr == nil); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		jc.Fail("run", runErr)
		return nil
	}

	res := Result{
		Mode:         pl.Mode,
		Chapters:     out.Chapters,
		Assets:       out.Assets,
		Placeholders: out.Placeholders,
		Artifacts:    sink.refs(),
		Timing:       Timing{ElapsedMS: jc.Elapsed().Milliseconds()},
	}
	if provider != nil {
		res.Provider = provider.Name()
		res.Model = provider.Model()
	}
	if out.Render != nil {
		res.Backend = out.Render.Report.Backend
		res.Missing = len(out.Render.Report.Missing)
		res.Timing.RenderMS = out.Render.Report.RenderMillis
	}
	jc.Succeed(StageDone, res)
	return nil
}

type upload struct {
	kind jobs.ArtifactKind
	name string
	data []byte
}

// uploadRender stores the render outputs. After a failed render only the
// HTML and the backend log are kept, and upload errors are logged instead of
// masking the render error.
func (p *Pipeline) uploadRender(ctx context.Context, sink *artifactSink, r *render.Result, ok bool) error {
	items := []upload{
		{jobs.ArtifactHTML, render.HTMLName, r.HTML},
		{jobs.ArtifactRenderLog, "render.log", []byte(r.Log)},
	}
	if ok {
		report, err := json.MarshalIndent(r.Report, "", "  ")
		if err != nil {
			return joberr.New(joberr.KindInternal, StageUpload, err)
		}
		items = append(items,
			upload{jobs.ArtifactPDF, render.PDFName, r.PDF},
			upload{jobs.ArtifactLayoutReport, "layout_report.json", report},
		)
	}
	for _, it := range items {
		if len(it.data) == 0 {
			continue
		}
		if err := sink.Put(ctx, it.kind, it.name, it.data); err != nil {
			if !ok {
				p.log.Warn("upload after failed render", "name", it.name, "error", err)
				continue
			}
			return joberr.New(joberr.KindTransient, StageUpload, err)
		}
	}
	return nil
}

// artifactSink adapts the ArtifactStore to the engine and collects refs.
type artifactSink struct {
	store *gcp.ArtifactStore
	job   *jobs.JobRun

	mu       sync.Mutex
	uploaded []ArtifactRef
}

func (s *artifactSink) Put(ctx context.Context, kind jobs.ArtifactKind, name string, data []byte) error {
	if s.store == nil {
		return nil
	}
	rec, err := s.store.Put(ctx, s.job, gcp.Artifact{Kind: kind, Name: name, Data: data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded = append(s.uploaded, ArtifactRef{
		Kind:   rec.Kind,
		Name:   rec.Name,
		Key:    rec.ObjectKey,
		SHA256: rec.SHA256,
		Size:   rec.SizeBytes,
	})
	return nil
}

func (s *artifactSink) refs() []ArtifactRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ArtifactRef(nil), s.uploaded...)
}
