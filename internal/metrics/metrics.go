// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_completed_total",
			Help: "Total number of workflow jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	WorkflowJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_failed_total",
			Help: "Total number of workflow jobs that exited with a fatal error",
		},
		[]string{"error_code"},
	)

	WorkflowJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "workflow_job_duration_seconds",
			Help: "Duration of a full workflow job run in seconds",
		},
		[]string{"status"},
	)

	InvitesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invites_sent_total",
			Help: "Total number of connection invites sent",
		},
		[]string{"account_id"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of follow-up messages sent",
		},
		[]string{"account_id"},
	)

	ConnectionChecksPerformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_checks_total",
			Help: "Total number of connection-acceptance scans performed",
		},
		[]string{"account_id"},
	)

	RateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Total number of rate-limit checks, partitioned by whether they allowed the caller to proceed",
		},
		[]string{"kind", "allowed"},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_batches_processed_total",
			Help: "Total number of lead batches processed by the worker",
		},
		[]string{"outcome"},
	)
)
