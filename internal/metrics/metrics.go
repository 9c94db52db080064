// Package metrics wraps the service's Prometheus collectors: queue-depth
// gauges for C3's two streams and outcome counters for the compile/execute
// workers, exposed over a plain net/http handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide collector set, registered once at startup
// and shared by every worker/API goroutine (spec.md §9's "shared
// capability" pattern, same as Queue and Config).
type Metrics struct {
	registry *prometheus.Registry

	CompileQueueDepth prometheus.Gauge
	ExecuteQueueDepth prometheus.Gauge

	CompileJobsTotal  *prometheus.CounterVec
	ExecuteJobsTotal  *prometheus.CounterVec
	SubmissionsTotal  *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// New constructs a Metrics with a dedicated registry (rather than the
// global default registerer) so tests can construct independent instances
// without collector-already-registered collisions.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CompileQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: `ctfarena`,
			Subsystem: `queue`,
			Name:      `compile_depth`,
			Help:      `Number of compile jobs pending in the COMPILES stream.`,
		}),
		ExecuteQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: `ctfarena`,
			Subsystem: `queue`,
			Name:      `execute_depth`,
			Help:      `Number of execute jobs pending in the JOBS stream.`,
		}),
		CompileJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `ctfarena`,
			Subsystem: `compile_worker`,
			Name:      `jobs_total`,
			Help:      `Compile jobs processed, partitioned by terminal status.`,
		}, []string{`status`}),
		ExecuteJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `ctfarena`,
			Subsystem: `execute_worker`,
			Name:      `jobs_total`,
			Help:      `Execute jobs processed, partitioned by terminal status.`,
		}, []string{`status`}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `ctfarena`,
			Subsystem: `orchestrator`,
			Name:      `submissions_total`,
			Help:      `Challenge submissions processed, partitioned by terminal status.`,
		}, []string{`status`}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `ctfarena`,
			Subsystem: `http`,
			Name:      `requests_total`,
			Help:      `Ingress requests, partitioned by route and status code.`,
		}, []string{`route`, `status`}),
	}

	reg.MustRegister(
		m.CompileQueueDepth,
		m.ExecuteQueueDepth,
		m.CompileJobsTotal,
		m.ExecuteJobsTotal,
		m.SubmissionsTotal,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this Metrics's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
