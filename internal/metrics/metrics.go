// Package metrics exposes Prometheus collectors for the download supervisor
// and the copy-to-device path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records job lifecycle and copy counters. It satisfies job.Recorder.
type Metrics struct {
	submittedTotal  prometheus.Counter
	startedTotal    prometheus.Counter
	finishedTotal   *prometheus.CounterVec
	activeJobs      prometheus.Gauge
	durationSeconds *prometheus.HistogramVec
	copiedBytes     prometheus.Counter
	copiesTotal     *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// It panics if registration fails, as duplicate names are a programming error.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Download jobs accepted by the supervisor.",
		}),
		startedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Download jobs that were admitted and attempted a process spawn.",
		}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Download jobs that reached a terminal state.",
		}, []string{"state", "reason"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Download jobs that are queued or running.",
		}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from admission to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"state"}),
		copiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copied_bytes_total",
			Help:      "Bytes copied to removable storage.",
		}),
		copiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_total",
			Help:      "Copy-to-device attempts by outcome.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.submittedTotal,
		m.startedTotal,
		m.finishedTotal,
		m.activeJobs,
		m.durationSeconds,
		m.copiedBytes,
		m.copiesTotal,
	)
	return m
}

func (m *Metrics) JobSubmitted() {
	m.submittedTotal.Inc()
	m.activeJobs.Inc()
}

func (m *Metrics) JobStarted() {
	m.startedTotal.Inc()
}

func (m *Metrics) JobFinished(state, reason string, elapsed time.Duration) {
	m.finishedTotal.WithLabelValues(state, reason).Inc()
	m.activeJobs.Dec()
	m.durationSeconds.WithLabelValues(state).Observe(elapsed.Seconds())
}

// CopyFinished records one copy attempt; bytes is ignored on failure.
func (m *Metrics) CopyFinished(bytes int64, err error) {
	if err != nil {
		m.copiesTotal.WithLabelValues("error").Inc()
		return
	}
	m.copiesTotal.WithLabelValues("success").Inc()
	m.copiedBytes.Add(float64(bytes))
}
