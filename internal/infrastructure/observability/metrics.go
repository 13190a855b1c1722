package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the service. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SessionsStarted   *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	SessionsAbandoned prometheus.Counter
	AnswersSubmitted  prometheus.Counter

	GraphMutations *prometheus.CounterVec
	Imports        *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Troubleshooting sessions started",
		}, []string{"category"}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Troubleshooting sessions that reached a conclusion",
		}, []string{"category"}),
		SessionsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_abandoned_total",
			Help:      "Troubleshooting sessions marked abandoned",
		}),
		AnswersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_submitted_total",
			Help:      "Answers accepted by active sessions",
		}),
		GraphMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_mutations_total",
			Help:      "Committed graph mutations by event type",
		}, []string{"type"}),
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Import documents processed by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.SessionsStarted,
		m.SessionsCompleted,
		m.SessionsAbandoned,
		m.AnswersSubmitted,
		m.GraphMutations,
		m.Imports,
	)
	return m
}

// Register adds extra collectors, such as the view cache collector.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted counts a started session. Sessions started at the global
// selector are counted under an empty category.
func (m *Metrics) SessionStarted(category string) {
	m.SessionsStarted.WithLabelValues(category).Inc()
}

func (m *Metrics) AnswerSubmitted() { m.AnswersSubmitted.Inc() }

func (m *Metrics) SessionCompleted(category string) {
	m.SessionsCompleted.WithLabelValues(category).Inc()
}

func (m *Metrics) SessionAbandoned() { m.SessionsAbandoned.Inc() }

// DocumentImported counts one import document by outcome.
func (m *Metrics) DocumentImported(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "imported"
	}
	m.Imports.WithLabelValues(outcome).Inc()
}

// GraphMutated counts a committed graph mutation.
func (m *Metrics) GraphMutated(eventType string) {
	m.GraphMutations.WithLabelValues(eventType).Inc()
}
