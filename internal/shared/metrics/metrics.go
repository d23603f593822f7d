package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	submissionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "submissions_created_total",
		Help:      "Submissions accepted into the record store.",
	}, []string{"document_type"})

	submissionsRejectedInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "submissions_invalid_total",
		Help:      "Submissions refused by validation before a record existed.",
	}, []string{"field"})

	verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "verdicts_total",
		Help:      "Terminal statuses reached, by status.",
	}, []string{"status"})

	failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "workflow_failures_total",
		Help:      "Workflow failures by failure code.",
	}, []string{"code"})

	oracleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "verisure",
		Name:      "oracle_duration_seconds",
		Help:      "Verification oracle call latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"outcome"})

	workerJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "worker_jobs_total",
		Help:      "Queue jobs handled by the worker, by outcome.",
	}, []string{"outcome"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisure",
		Name:      "rate_limited_total",
		Help:      "Requests refused by the rate limiter, by route group.",
	}, []string{"group"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "verisure",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		submissionsCreated,
		submissionsRejectedInput,
		verdicts,
		failures,
		oracleDuration,
		workerJobs,
		rateLimited,
		httpDuration,
	)
}

// Registry returns the registry all VeriSure collectors are registered on.
func Registry() *prometheus.Registry {
	return registry
}

// IncSubmissionCreated counts a newly created record.
func IncSubmissionCreated(documentType string) {
	submissionsCreated.WithLabelValues(documentType).Inc()
}

// IncSubmissionInvalid counts a submission refused by validation.
func IncSubmissionInvalid(field string) {
	submissionsRejectedInput.WithLabelValues(field).Inc()
}

// IncVerdict counts a record reaching a terminal status.
func IncVerdict(status string) {
	verdicts.WithLabelValues(status).Inc()
}

// IncFailure counts a workflow failure by code.
func IncFailure(code string) {
	failures.WithLabelValues(code).Inc()
}

// ObserveOracleDuration records an oracle call; outcome is "ok" or a failure code.
func ObserveOracleDuration(outcome string, d time.Duration) {
	oracleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncWorkerJob counts a worker job outcome (ok, retry, dropped).
func IncWorkerJob(outcome string) {
	workerJobs.WithLabelValues(outcome).Inc()
}

func IncRateLimited(group string) {
	rateLimited.WithLabelValues(group).Inc()
}

// RegisterDBStats exports pool statistics for db. A second pool under the
// same name is ignored.
func RegisterDBStats(db *sql.DB, name string) {
	_ = registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Middleware records request latency by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
