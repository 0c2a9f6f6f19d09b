// Package metrics holds the Prometheus collectors of the worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Total number of jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of currently active jobs",
		},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"kind"},
	)

	stageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_stage_failures_total",
			Help: "Job failures by orchestration stage",
		},
		[]string{"stage"},
	)

	assetDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_downloads_total",
			Help: "Model asset download attempts by result",
		},
		[]string{"result"},
	)

	assetBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_download_bytes_total",
			Help: "Bytes written by completed model asset downloads",
		},
	)

	pollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_attempts",
			Help:    "History queries spent per tracking id",
			Buckets: []float64{1, 2, 5, 10, 20, 60, 120, 180},
		},
	)

	backendReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backend_ready",
			Help: "1 when the inference backend answered its health check",
		},
	)

	backendProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backend_progress_ratio",
			Help: "Fraction of sampling steps completed by the backend for the current job",
		},
	)

	// Queue metrics
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	deadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dead_letters",
			Help: "Number of failed jobs parked in the dead-letter queue",
		},
	)
)

// RecordJobStarted marks a job as active
func RecordJobStarted() {
	jobsActive.Inc()
}

// RecordJobCompleted records job completion
func RecordJobCompleted(kind, status string, duration time.Duration) {
	jobsActive.Dec()
	jobsTotal.WithLabelValues(kind, status).Inc()
	jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordStageFailure(stage string) {
	stageFailures.WithLabelValues(stage).Inc()
}

// RecordAssetDownload counts a download attempt; bytes is ignored for failures.
func RecordAssetDownload(ok bool, bytes int64) {
	if !ok {
		assetDownloads.WithLabelValues("failure").Inc()
		return
	}
	assetDownloads.WithLabelValues("success").Inc()
	assetBytes.Add(float64(bytes))
}

func RecordPollAttempts(n int) {
	pollAttempts.Observe(float64(n))
}

func SetBackendReady(ready bool) {
	if ready {
		backendReady.Set(1)
		return
	}
	backendReady.Set(0)
}

// SetBackendProgress records step of total; a zero total is ignored.
func SetBackendProgress(step, total int) {
	if total <= 0 {
		return
	}
	backendProgress.Set(float64(step) / float64(total))
}

// SetQueueDepth sets the current queue depth
func SetQueueDepth(depth int64) {
	queueDepth.Set(float64(depth))
}

// SetDeadLetters sets the current dead-letter count
func SetDeadLetters(count int64) {
	deadLetters.Set(float64(count))
}
