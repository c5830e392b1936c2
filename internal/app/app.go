package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/bookgen-worker/internal/data/repos"
	"github.com/yungbote/bookgen-worker/internal/db"
	bghttp "github.com/yungbote/bookgen-worker/internal/http"
	httpH "github.com/yungbote/bookgen-worker/internal/http/handlers"
	"github.com/yungbote/bookgen-worker/internal/jobs/pipeline/book_render"
	"github.com/yungbote/bookgen-worker/internal/jobs/runtime"
	"github.com/yungbote/bookgen-worker/internal/jobs/worker"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/figures"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/pipeline"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/render"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/imaging"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/pdfrender"
	"github.com/yungbote/bookgen-worker/internal/platform/redisx"
)

type App struct {
	Log       *logger.Logger
	Cfg       Config
	Version   string
	DB        *gorm.DB
	Repos     repos.Set
	Redis     *redisx.Client
	Storage   gcp.ObjectBackend
	Artifacts *gcp.ArtifactStore
	Providers *llm.Set
	Engine    *pipeline.Engine
	Registry  *runtime.Registry
	Worker    *worker.Worker
	Server    *bghttp.Server
	Metrics   *observability.Metrics

	dbService    *db.Service
	closers      []func() error
	otelShutdown func(context.Context) error
}

// Options adjust New for callers that do not run the long-lived worker.
type Options struct {
	Version string
	// Logger replaces the one built from cfg.Log.
	Logger *logger.Logger
	// SkipServer leaves Server nil.
	SkipServer bool
}

func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		var err error
		log, err = logger.NewWithLevel(cfg.Log.Mode, cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	a := &App{Log: log, Cfg: cfg, Version: opts.Version}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Cfg
	log := a.Log

	a.Metrics = observability.Init(log)
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Env,
		Version:     opts.Version,
		Endpoint:    cfg.Otel.Endpoint,
		Protocol:    cfg.Otel.Protocol,
		Headers:     observability.ParseHeaders(cfg.Otel.Headers),
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	svc, err := db.NewService(log, db.Config{
		Driver:       cfg.DB.Driver,
		DSN:          cfg.DB.DSN,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		AutoMigrate:  cfg.DB.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.dbService = svc
	a.DB = svc.DB()
	a.Repos = repos.New(a.DB, log)

	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rc, err := redisx.New(ctx, log, redisx.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Channel:   cfg.Redis.Channel,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
	} else {
		log.Info("Redis disabled; job events stay in the database and placement runs without a cross-process lock")
	}

	a.Storage, err = resolveStorage(ctx, log, cfg.Storage)
	if err != nil {
		return err
	}
	if c, ok := a.Storage.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Artifacts = gcp.NewArtifactStore(log, a.Storage, a.Repos.Artifacts, gcp.ArtifactStoreConfig{
		Prefix:      cfg.Storage.ArtifactPrefix,
		MaxDup:      cfg.Storage.MaxDup,
		MaxAttempts: cfg.Storage.UploadAttempts,
		BackoffBase: cfg.Storage.BackoffBase,
		BackoffMax:  cfg.Storage.BackoffMax,
	})

	providers, closers, err := wireProviders(ctx, log, cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm providers: %w", err)
	}
	a.Providers = providers
	a.closers = append(a.closers, closers...)

	engine, err := a.wireEngine()
	if err != nil {
		return err
	}
	a.Engine = engine

	a.Registry = runtime.NewRegistry()
	if err := a.Registry.Register(book_render.New(log, book_render.Deps{
		Engine:      a.Engine,
		Providers:   a.Providers,
		Storage:     a.Storage,
		Artifacts:   a.Artifacts,
		Config:      cfg.PipelineConfig(),
		WorkRoot:    cfg.Worker.WorkRoot,
		KeepWorkDir: cfg.Worker.KeepWorkDir,
	})); err != nil {
		return err
	}

	a.Worker = worker.NewWorker(log, cfg.WorkerConfig(), a.RuntimeDeps(), a.Registry)

	if !opts.SkipServer && strings.TrimSpace(cfg.HTTP.Addr) != "" {
		a.Server = a.wireServer()
	}
	return nil
}

// RuntimeDeps are the stores every job context reports through.
func (a *App) RuntimeDeps() runtime.Deps {
	deps := runtime.Deps{Jobs: a.Repos.JobRuns, Events: a.Repos.JobEvents}
	if a.Redis != nil {
		deps.Bus = a.Redis
	}
	return deps
}

func (a *App) wireEngine() (*pipeline.Engine, error) {
	cfg := a.Cfg
	pcfg := cfg.PipelineConfig()

	backend, err := pdfrender.New(cfg.Render.Backend, pdfrender.LocalConfig{
		Binary:    cfg.Render.Binary,
		ExtraArgs: cfg.Render.ExtraArgs,
		Timeout:   cfg.Render.Timeout,
	}, pdfrender.HostedConfig{
		Endpoint:   cfg.Render.HostedEndpoint,
		APIKey:     cfg.Render.HostedAPIKey,
		Timeout:    cfg.Render.Timeout,
		MaxRetries: cfg.Render.HostedRetries,
		RetryBase:  cfg.Render.HostedRetryBase,
	})
	if err != nil {
		return nil, fmt.Errorf("init render backend: %w", err)
	}

	painter, err := imaging.NewPainter(imaging.PlaceholderOptions{
		Width:    cfg.Render.PlaceholderWidth,
		Height:   cfg.Render.PlaceholderHeight,
		FontPath: cfg.Render.PlaceholderFont,
		FontSize: cfg.Render.PlaceholderFontSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init placeholder painter: %w", err)
	}

	inspector := pdfrender.NewInspector()
	if !inspector.Available() {
		a.Log.Warn("pdfinfo/pdftotext not found; layout reports will omit page and text statistics")
	}
	renderer, err := render.NewRenderer(a.Log, backend, painter, inspector)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	var placer *figures.Placer
	if a.Redis != nil {
		placer = figures.NewPlacer(a.Log, pcfg.Figures, a.Repos.Placements, a.Redis)
	} else {
		placer = figures.NewPlacer(a.Log, pcfg.Figures, a.Repos.Placements, nil)
	}

	return pipeline.NewEngine(a.Log, pcfg, pipeline.Deps{
		Placer:   placer,
		Renderer: renderer,
		Painter:  painter,
		Storage:  a.Storage,
	}), nil
}

func (a *App) wireServer() *bghttp.Server {
	checks := map[string]httpH.Pinger{
		"db": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Raw().Ping(ctx).Err() }
	}

	serviceName := ""
	if a.Cfg.Otel.Enabled {
		serviceName = a.Cfg.Otel.ServiceName
	}
	return bghttp.NewServer(a.Cfg.HTTP.Addr, bghttp.RouterConfig{
		Log:           a.Log,
		ServiceName:   serviceName,
		CORSOrigins:   a.Cfg.HTTP.CORSOrigins,
		Metrics:       a.Metrics,
		HealthHandler: httpH.NewHealthHandler(checks),
		StatusHandler: httpH.NewStatusHandler(a.Worker, httpH.StatusInfo{
			Version:   a.Version,
			JobTypes:  a.Registry.Types(),
			Providers: a.Providers.Names(),
		}),
		JobHandler: httpH.NewJobHandler(a.Repos, a.Artifacts),
	})
}

// Run starts the worker, the collectors and the HTTP server, and blocks
// until ctx is cancelled and every in-flight job has reported.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Worker == nil {
		return fmt.Errorf("app not initialized")
	}
	interval := a.Cfg.Metrics.CollectInterval
	if interval > 0 {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB, interval)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB, interval)
		if a.Redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Redis.Raw(), interval)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Worker.Start(gctx)
		a.Worker.Wait()
		return nil
	})
	if a.Server != nil {
		g.Go(func() error { return a.Server.Run(gctx) })
	}
	err := g.Wait()
	a.Log.Info("Worker stopped")
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Log != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.dbService != nil {
		_ = a.dbService.Close()
		a.dbService = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
