package book_render

import (
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/pipeline"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const JobType = "book_render"

type Deps struct {
	Engine    *pipeline.Engine
	Providers *llm.Set
	// Storage holds the job inputs; Artifacts writes the outputs.
	Storage   gcp.ObjectBackend
	Artifacts *gcp.ArtifactStore
	Config    pipeline.Config
	// WorkRoot is the parent of per-job work directories. Empty uses os.TempDir.
	WorkRoot    string
	KeepWorkDir bool
}

type Pipeline struct {
	log         *logger.Logger
	engine      *pipeline.Engine
	providers   *llm.Set
	storage     gcp.ObjectBackend
	artifacts   *gcp.ArtifactStore
	base        pipeline.Config
	workRoot    string
	keepWorkDir bool
}

func New(baseLog *logger.Logger, deps Deps) *Pipeline {
	return &Pipeline{
		log:         baseLog.With("job", JobType),
		engine:      deps.Engine,
		providers:   deps.Providers,
		storage:     deps.Storage,
		artifacts:   deps.Artifacts,
		base:        deps.Config,
		workRoot:    deps.WorkRoot,
		keepWorkDir: deps.KeepWorkDir,
	}
}

func (p *Pipeline) Type() string { return JobType }
