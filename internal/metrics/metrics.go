// Package metrics holds the Prometheus instruments for job orchestration.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetops"

// Worker invocation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeExitError   = "exit_error"
	OutcomeNoResult    = "no_result"
	OutcomeWorkerError = "worker_error"
	OutcomeError       = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted       *prometheus.CounterVec
	jobsFinished        *prometheus.CounterVec
	workerInvocations   *prometheus.CounterVec
	workerDuration      prometheus.Histogram
	jobIDCollisions     *prometheus.CounterVec
	notificationsCreate prometheus.Counter
}

// New registers every instrument on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for processing by kind.",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status by kind and status.",
		}, []string{"kind", "status"}),
		workerInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_invocations_total",
			Help:      "Optimizer invocations by outcome (ok, exit_error, no_result, worker_error, error).",
		}, []string{"outcome"}),
		workerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_invocation_seconds",
			Help:      "Wall time of one optimizer invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}),
		jobIDCollisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_id_collisions_total",
			Help:      "Job id collisions that forced a new id, by kind.",
		}, []string{"kind"}),
		notificationsCreate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications created by the reconciler.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) WorkerInvocation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.workerInvocations.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.workerDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) JobIDCollision(kind string) {
	if m == nil {
		return
	}
	m.jobIDCollisions.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationsCreated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.notificationsCreate.Add(float64(count))
}
