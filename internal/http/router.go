package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/bookgen-worker/internal/http/handlers"
	httpMW "github.com/yungbote/bookgen-worker/internal/http/middleware"
	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	HealthHandler *httpH.HealthHandler
	StatusHandler *httpH.StatusHandler
	JobHandler    *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.TraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log, "/healthz", "/readyz", "/metrics"))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.StatusHandler != nil {
		r.GET("/status", cfg.StatusHandler.Status)
	}

	// Jobs
	if cfg.JobHandler != nil {
		jobs := r.Group("/jobs")
		jobs.GET("/:id", cfg.JobHandler.GetJob)
		jobs.GET("/:id/events", cfg.JobHandler.ListEvents)
		jobs.GET("/:id/artifacts", cfg.JobHandler.ListArtifacts)
	}

	return r
}
