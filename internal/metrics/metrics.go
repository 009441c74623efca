// Package metrics registers in-process Prometheus collectors for job
// lifecycle events. Nothing in this package exposes an HTTP listener:
// readings are surfaced only through Read, which returns a Snapshot. No
// CLI command prints it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/repx-run/repx/internal/model"
)

var (
	jobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repx_jobs_submitted_total",
		Help: "Total number of jobs dispatched to a scheduler.",
	})
	jobsCachedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repx_jobs_cached_total",
		Help: "Total number of jobs short-circuited by an existing SUCCESS marker.",
	})
	jobsSucceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repx_jobs_succeeded_total",
		Help: "Total number of jobs that completed successfully.",
	})
	jobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repx_jobs_failed_total",
		Help: "Total number of jobs that terminated with a failure.",
	})
	jobsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repx_jobs_skipped_total",
		Help: "Total number of jobs skipped due to upstream failure, lock contention, or cancellation.",
	})

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repx_job_duration_seconds",
			Help:    "Job execution duration in seconds, by runtime kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"runtime"},
	)
)

func init() {
	prometheus.MustRegister(
		jobsSubmittedTotal,
		jobsCachedTotal,
		jobsSucceededTotal,
		jobsFailedTotal,
		jobsSkippedTotal,
		jobDurationSeconds,
	)
}

// RecordSubmitted increments the submitted counter. Call once per real
// dispatch to a scheduler, not for cache hits.
func RecordSubmitted() {
	jobsSubmittedTotal.Inc()
}

// RecordCached increments the cached counter for a job short-circuited
// by an existing SUCCESS marker.
func RecordCached() {
	jobsCachedTotal.Inc()
}

// RecordTerminal increments the counter matching a job's terminal status
// and, for Success, observes its duration against the runtime histogram.
func RecordTerminal(kind model.StatusKind, runtime model.RuntimeKind, duration time.Duration) {
	switch kind {
	case model.StatusSuccess:
		jobsSucceededTotal.Inc()
		jobDurationSeconds.WithLabelValues(string(runtime)).Observe(duration.Seconds())
	case model.StatusFailed:
		jobsFailedTotal.Inc()
	case model.StatusSkipped, model.StatusCancelled:
		jobsSkippedTotal.Inc()
	}
}

// Snapshot is a point-in-time read of the registered counters. It never
// touches the network.
type Snapshot struct {
	Submitted int
	Cached    int
	Succeeded int
	Failed    int
	Skipped   int
}

// Read gathers the current counter values into a Snapshot.
func Read() Snapshot {
	return Snapshot{
		Submitted: int(counterValue(jobsSubmittedTotal)),
		Cached:    int(counterValue(jobsCachedTotal)),
		Succeeded: int(counterValue(jobsSucceededTotal)),
		Failed:    int(counterValue(jobsFailedTotal)),
		Skipped:   int(counterValue(jobsSkippedTotal)),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
