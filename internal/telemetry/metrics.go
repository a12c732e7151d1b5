package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsAdmitted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "avatar_jobs_admitted_total", Help: "Jobs created and published by the admission path"})
	CreditsConsumed     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "avatar_credits_consumed_total", Help: "Credits consumed by tier"}, []string{"tier"})
	AdmissionRejects    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "avatar_admission_rejects_total", Help: "Generation requests rejected before a job was created"}, []string{"reason"})
	JobsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "avatar_jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "avatar_jobs_failed_total", Help: "Jobs that ended in failed by error kind"}, []string{"kind"})
	DuplicateDeliveries = prometheus.NewCounter(prometheus.CounterOpts{Name: "avatar_duplicate_deliveries_total", Help: "Queue deliveries dropped by the idempotency guard"})
	StageDuration       = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "avatar_pipeline_stage_seconds", Help: "Pipeline stage duration", Buckets: prometheus.ExponentialBuckets(0.01, 2, 14)}, []string{"stage"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "avatar_queue_depth", Help: "Ready queue depth"})
	QueueLeasedGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "avatar_queue_leased", Help: "Notifications leased by workers and not yet acknowledged"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "avatar_jobs_inflight", Help: "Jobs currently being processed by this worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsAdmitted,
			CreditsConsumed,
			AdmissionRejects,
			JobsCompleted,
			JobsFailed,
			DuplicateDeliveries,
			StageDuration,
			QueueDepthGauge,
			QueueLeasedGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
