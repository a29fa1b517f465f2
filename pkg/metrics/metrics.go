// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/querygate/pkg/models"
)

// Metrics holds every collector registered by querygate. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// AnswersTotal counts gateway calls by outcome.
	AnswersTotal *prometheus.CounterVec
	// ErrorsTotal counts classified failures by kind and whether a recovery
	// text was produced.
	ErrorsTotal *prometheus.CounterVec
	// BackendLatency tracks backend call duration.
	BackendLatency prometheus.Histogram
	// BackendFailures counts thrown backend failures.
	BackendFailures prometheus.Counter
	// CacheWrites counts cache writes by tier.
	CacheWrites *prometheus.CounterVec
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AnswersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_answers_total",
				Help: "Total number of gateway answers",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_errors_total",
				Help: "Total number of classified backend errors",
			},
			[]string{"kind", "recovered"},
		),
		BackendLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "querygate_backend_latency_seconds",
				Help:    "Backend call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		BackendFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "querygate_backend_failures_total",
				Help: "Total number of backend calls that failed outright",
			},
		),
		CacheWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_cache_writes_total",
				Help: "Total number of cache writes",
			},
			[]string{"tier"},
		),
	}
}

// Registry returns the underlying registry so callers can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAnswer records one gateway call.
func (m *Metrics) ObserveAnswer(a models.Answer) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(string(a.Outcome)).Inc()
	if a.ErrorKind != "" {
		recovered := "false"
		if a.Recovered {
			recovered = "true"
		}
		m.ErrorsTotal.WithLabelValues(a.ErrorKind, recovered).Inc()
	}
}

// ObserveBackend records a backend call's latency and whether it failed.
func (m *Metrics) ObserveBackend(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.BackendLatency.Observe(d.Seconds())
	if err != nil {
		m.BackendFailures.Inc()
	}
}

// ObserveCacheWrite records a write to tier ("ephemeral" or "durable").
func (m *Metrics) ObserveCacheWrite(tier string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(tier).Inc()
}

// RegisterCacheGauges exposes live cache sizes through callbacks.
func (m *Metrics) RegisterCacheGauges(ephemeralEntries func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "querygate_ephemeral_entries",
			Help: "Entries currently held by the in-process cache",
		},
		ephemeralEntries,
	)
}
