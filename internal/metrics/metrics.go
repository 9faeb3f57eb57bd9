package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. All collectors
// are registered on a private registry so multiple engine instances
// do not collide.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	requestDuration prometheus.Histogram
	activeWorkers   prometheus.Gauge

	server *http.Server
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surge_requests_total",
			Help: "Requests executed, labeled by outcome.",
		}, []string{"outcome"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surge_request_errors_total",
			Help: "Failed requests, labeled by error type.",
		}, []string{"error_type"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surge_batches_total",
			Help: "Batches executed, labeled by terminal status.",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surge_request_duration_seconds",
			Help:    "Request duration from send to response.",
			Buckets: prometheus.DefBuckets,
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surge_active_workers",
			Help: "Workers currently executing batch requests.",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.batchesTotal,
		m.requestDuration,
		m.activeWorkers,
	)
	return m
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

// ObserveError counts one failed request by error type.
func (m *Metrics) ObserveError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveBatch counts a finished batch by terminal status.
func (m *Metrics) ObserveBatch(status string) {
	m.batchesTotal.WithLabelValues(status).Inc()
}

// WorkerStarted and WorkerStopped track the active-worker gauge.
func (m *Metrics) WorkerStarted() { m.activeWorkers.Inc() }
func (m *Metrics) WorkerStopped() { m.activeWorkers.Dec() }

// Serve exposes /metrics on addr until Shutdown is called.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}
	return m.server.ListenAndServe()
}

// Shutdown stops the metrics server if one is running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
