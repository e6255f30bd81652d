package metrics

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

const namespace = "pytake"

// Metrics holds all application collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry
	logger   zerolog.Logger

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	// WebSocket
	wsConnections *prometheus.GaugeVec
	wsMessages    *prometheus.CounterVec
	wsErrors      prometheus.Counter

	// Background jobs
	jobs *prometheus.CounterVec

	// Agents
	agentsByStatus *prometheus.GaugeVec
	agentsTotal    prometheus.Gauge

	// Named series created on first Record
	mu      sync.Mutex
	dynamic map[string]dynamicSeries
}

type dynamicSeries struct {
	labels    []string
	collector prometheus.Collector
	observe   func(labelValues []string, value float64) error
}

// New creates the collectors and registers them with a fresh registry
func New(logger zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		logger:   logger.With().Str("component", "metrics").Logger(),
		dynamic:  make(map[string]dynamicSeries),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests received.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Number of requests currently being handled.",
		}),
		wsConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_active_connections",
			Help:      "Current number of websocket connections.",
		}, []string{"hub"}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Websocket messages delivered to clients.",
		}, []string{"hub"}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "Websocket read and write failures.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Background jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		agentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_by_status",
			Help:      "Agents in the directory grouped by status.",
		}, []string{"status"}),
		agentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_total",
			Help:      "Agents in the directory.",
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.httpInFlight,
		m.wsConnections, m.wsMessages, m.wsErrors,
		m.jobs, m.agentsByStatus, m.agentsTotal,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record observes value on the series called name. Series are created on first
// use: names ending in _total are counters, _seconds and _score histograms,
// anything else a gauge. Tag keys become labels and must stay the same for a
// given name. Failures are logged and dropped.
func (m *Metrics) Record(name string, value float64, tags map[string]string) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = tags[k]
	}

	series, err := m.series(name, keys)
	if err == nil {
		err = series.observe(values, value)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("metric", name).Msg("dropping metric sample")
	}
}

func (m *Metrics) series(name string, labels []string) (dynamicSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.dynamic[name]; ok {
		if !equalStrings(s.labels, labels) {
			return dynamicSeries{}, errors.New("label set differs from first use: " + strings.Join(s.labels, ","))
		}
		return s, nil
	}

	s := dynamicSeries{labels: labels}
	switch {
	case strings.HasSuffix(name, "_total"):
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: name,
		}, labels)
		s.collector = vec
		s.observe = func(lv []string, v float64) error {
			c, err := vec.GetMetricWithLabelValues(lv...)
			if err != nil {
				return err
			}
			if v < 0 {
				return errors.New("counter cannot decrease")
			}
			c.Add(v)
			return nil
		}
	case strings.HasSuffix(name, "_seconds"), strings.HasSuffix(name, "_score"):
		buckets := prometheus.DefBuckets
		if strings.HasSuffix(name, "_score") {
			buckets = prometheus.LinearBuckets(0.1, 0.1, 10)
		}
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: name, Help: name, Buckets: buckets,
		}, labels)
		s.collector = vec
		s.observe = func(lv []string, v float64) error {
			o, err := vec.GetMetricWithLabelValues(lv...)
			if err != nil {
				return err
			}
			o.Observe(v)
			return nil
		}
	default:
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: name,
		}, labels)
		s.collector = vec
		s.observe = func(lv []string, v float64) error {
			g, err := vec.GetMetricWithLabelValues(lv...)
			if err != nil {
				return err
			}
			g.Set(v)
			return nil
		}
	}

	if err := m.registry.Register(s.collector); err != nil {
		return dynamicSeries{}, err
	}
	m.dynamic[name] = s
	return s, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RecordWebSocketConnect tracks a new connection on hub
func (m *Metrics) RecordWebSocketConnect(hub string) {
	m.wsConnections.WithLabelValues(hub).Inc()
}

// RecordWebSocketDisconnect tracks a closed connection on hub
func (m *Metrics) RecordWebSocketDisconnect(hub string) {
	m.wsConnections.WithLabelValues(hub).Dec()
}

// RecordWebSocketMessage counts n messages delivered on hub
func (m *Metrics) RecordWebSocketMessage(hub string, n int) {
	m.wsMessages.WithLabelValues(hub).Add(float64(n))
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.wsErrors.Inc()
}

// JobFinished implements queue.Observer
func (m *Metrics) JobFinished(kind, outcome string, _ int) {
	m.jobs.WithLabelValues(kind, outcome).Inc()
}

// UpdateAgentStats updates agent distribution metrics
func (m *Metrics) UpdateAgentStats(agents []types.Agent) {
	m.agentsByStatus.Reset()
	for _, a := range agents {
		m.agentsByStatus.WithLabelValues(string(a.Status)).Inc()
	}
	m.agentsTotal.Set(float64(len(agents)))
}
