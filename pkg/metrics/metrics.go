// Package metrics provides Prometheus metrics for the clover service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchesTotal counts matched records by resulting verification status
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "records_total",
			Help:      "Total number of source records matched by resulting status",
		},
		[]string{"source", "status"},
	)

	// MatchConfidence tracks the confidence of the best candidate
	MatchConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "confidence",
			Help:      "Confidence of the best candidate per matched record",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)

	// MatchDuration tracks time spent finding and scoring candidates
	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "duration_seconds",
			Help:      "Duration of candidate search and scoring in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// VerificationsTotal counts verification transitions by action and outcome
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "verification",
			Name:      "transitions_total",
			Help:      "Total number of verification transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// QueueJobsProcessed counts jobs acknowledged by workers
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"job_type", "status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// QueueJobDuration tracks handler duration
	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of job handlers in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job_type"},
	)

	// QueueJobsExhausted counts jobs that failed after their last attempt
	QueueJobsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "jobs_exhausted_total",
			Help:      "Total number of jobs that failed permanently",
		},
		[]string{"job_type"},
	)

	// QueueStuckJobsReset counts jobs recovered by the stuck-job sweep
	QueueStuckJobsReset = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "stuck_jobs_reset_total",
			Help:      "Total number of processing jobs reset by the stuck-job sweep",
		},
	)

	// PendingMappings tracks the size of the verification backlog
	PendingMappings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "verification",
			Name:      "pending_mappings",
			Help:      "Number of mappings awaiting review",
		},
	)
)

// RecordMatch records the outcome of matching one source record
func RecordMatch(source, status string, confidence float64, duration time.Duration) {
	MatchesTotal.WithLabelValues(source, status).Inc()
	MatchConfidence.Observe(confidence)
	MatchDuration.Observe(duration.Seconds())
}

// RecordVerification records a verification transition
func RecordVerification(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	VerificationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordJobStart marks a job as in flight
func RecordJobStart() {
	QueueJobsInFlight.Inc()
}

// RecordJobEnd records a finished job handler
func RecordJobEnd(jobType, status string, duration time.Duration) {
	QueueJobsInFlight.Dec()
	QueueJobsProcessed.WithLabelValues(jobType, status).Inc()
	QueueJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordJobExhausted records a job that will not be retried
func RecordJobExhausted(jobType string) {
	QueueJobsExhausted.WithLabelValues(jobType).Inc()
}

// RecordStuckJobsReset records jobs recovered by the sweep
func RecordStuckJobsReset(count int) {
	QueueStuckJobsReset.Add(float64(count))
}

// SetPendingMappings records the verification backlog size
func SetPendingMappings(count int) {
	PendingMappings.Set(float64(count))
}
