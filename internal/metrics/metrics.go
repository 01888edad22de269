package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "jobs_enqueued_total",
			Help:      "Sync jobs enqueued by type.",
		},
		[]string{"type"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "jobs_processed_total",
			Help:      "Job attempts finished by type and outcome (completed, retried, failed).",
		},
		[]string{"type", "outcome"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "token_refreshes_total",
			Help:      "OAuth token refreshes by result (ok, error, invalid_grant).",
		},
		[]string{"result"},
	)

	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be written. Alert on any increase.",
		},
	)

	rateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledgersync",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for an outbound call slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(jobsEnqueued, jobsProcessed, tokenRefreshes, auditWriteFailures, rateLimitWait)
	})
}

// IncJobsEnqueued counts one enqueued job.
func IncJobsEnqueued(jobType string) {
	jobsEnqueued.WithLabelValues(jobType).Inc()
}

// IncJobsProcessed counts one finished job attempt.
func IncJobsProcessed(jobType, outcome string) {
	jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

// IncTokenRefresh counts one refresh attempt by result.
func IncTokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// IncAuditWriteFailure counts a swallowed audit write error.
func IncAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// ObserveRateLimitWait records time spent blocked on the limiter.
func ObserveRateLimitWait(seconds float64) {
	rateLimitWait.Observe(seconds)
}
