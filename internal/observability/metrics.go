package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/bookgen-worker/internal/domain"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

const namespace = "bookgen"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so callers
// never check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	heartbeats    *prometheus.CounterVec

	artifactUploads *prometheus.CounterVec
	artifactBytes   prometheus.Counter
	renderDuration  *prometheus.HistogramVec
	missingAssets   prometheus.Counter
	placements      *prometheus.CounterVec
	bestEffortSkips *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
	pgStats    *prometheus.GaugeVec
	redisUp    prometheus.Gauge
	redisPing  prometheus.Gauge
}

var (
	initMu   sync.Mutex
	instance *Metrics
)

func Current() *Metrics {
	initMu.Lock()
	defer initMu.Unlock()
	return instance
}

// Init builds the process-wide metrics set on a private registry. Calling it
// again returns the existing instance.
func Init(log *logger.Logger) *Metrics {
	initMu.Lock()
	defer initMu.Unlock()
	if instance != nil {
		return instance
	}
	instance = newMetrics()
	if log != nil {
		log.Info("metrics initialized", "namespace", namespace)
	}
	return instance
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "requests_total",
			Help: "Provider calls by provider/model/operation/status.",
		}, []string{"provider", "model", "operation", "status"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "llm", Name: "request_duration_seconds",
			Help:    "Provider call latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "operation", "status"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "tokens_total",
			Help: "Tokens reported by providers, by direction.",
		}, []string{"provider", "model", "direction"}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "finished_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"job_type", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Wall time from claim to terminal report.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"job_type", "status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help:    "Pipeline stage latency by stage/status.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
		}, []string{"stage", "status"}),
		heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "heartbeats_total",
			Help: "Heartbeat writes by outcome.",
		}, []string{"status"}),
		artifactUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "artifacts", Name: "uploads_total",
			Help: "Artifact uploads by kind/status.",
		}, []string{"kind", "status"}),
		artifactBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "artifacts", Name: "uploaded_bytes_total",
			Help: "Bytes written to object storage.",
		}),
		renderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "render", Name: "duration_seconds",
			Help:    "PDF backend latency by backend/status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"backend", "status"}),
		missingAssets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "missing_assets_total",
			Help: "Image references replaced by placeholders.",
		}),
		placements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "figures", Name: "placements_total",
			Help: "Figure placements by source (computed, reused).",
		}, []string{"source"}),
		bestEffortSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "best_effort_skips_total",
			Help: "Best-effort steps skipped after an error.",
		}, []string{"stage"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "queue_depth",
			Help: "Job rows by status.",
		}, []string{"status"}),
		pgStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "redis", Name: "up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "redis", Name: "ping_seconds",
			Help: "Last redis ping latency.",
		}),
	}
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

func (m *Metrics) ObserveLLMRequest(provider, model, operation, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	provider, model, operation, status = orUnknown(provider), orUnknown(model), orUnknown(operation), orUnknown(status)
	m.llmRequests.WithLabelValues(provider, model, operation, status).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(provider, operation, status).Observe(dur.Seconds())
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	jobType, status = orUnknown(jobType), orUnknown(status)
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
	if dur > 0 {
		m.jobDuration.WithLabelValues(jobType, status).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(orUnknown(stage), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncHeartbeat(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.heartbeats.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveArtifactUpload(kind, status string, size int64) {
	if m == nil {
		return
	}
	m.artifactUploads.WithLabelValues(orUnknown(kind), orUnknown(status)).Inc()
	if size > 0 && status == "ok" {
		m.artifactBytes.Add(float64(size))
	}
}

func (m *Metrics) ObserveRender(backend, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.WithLabelValues(orUnknown(backend), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) AddMissingAssets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.missingAssets.Add(float64(n))
}

func (m *Metrics) AddPlacements(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.placements.WithLabelValues(orUnknown(source)).Add(float64(n))
}

func (m *Metrics) IncBestEffortSkip(stage string) {
	if m == nil {
		return
	}
	m.bestEffortSkips.WithLabelValues(orUnknown(stage)).Inc()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, interval, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
		m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
		m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
		m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
		m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	go tick(ctx, interval, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{"queued", "running", "done", "failed"}
	go tick(ctx, interval, func() {
		for _, s := range statuses {
			m.queueDepth.WithLabelValues(s).Set(0)
		}
		var rows []struct {
			Status string
			Count  int64
		}
		if err := db.WithContext(ctx).
			Model(&domain.JobRun{}).
			Select("status, count(*) as count").
			Group("status").
			Scan(&rows).Error; err != nil {
			if log != nil {
				log.Warn("metrics: job queue depth query failed", "error", err)
			}
			return
		}
		for _, row := range rows {
			m.queueDepth.WithLabelValues(orUnknown(row.Status)).Set(float64(row.Count))
		}
	})
}

func tick(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
