package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

const prometheusNamespace = "slotwatch"

var freshnessStates = []snapshot.Freshness{snapshot.Pending, snapshot.Fresh, snapshot.Stale, snapshot.Failed}

// Metrics exposes refresh activity on a dedicated Prometheus registry.
type Metrics struct {
	registry  *prometheus.Registry
	fetches   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	freshness *prometheus.GaugeVec
}

// NewMetrics builds the metric set and registers it.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "fetch_total",
			Help:      "Adapter calls by center and outcome.",
		}, []string{"center", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Adapter call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"center"}),
		freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "center_freshness",
			Help:      "1 for the current freshness state of each center, 0 otherwise.",
		}, []string{"center", "state"}),
	}
	m.registry.MustRegister(m.fetches, m.latency, m.freshness)
	return m
}

// TrackInFlight registers a gauge reading the number of running fetches.
func (m *Metrics) TrackInFlight(running func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Name:      "fetches_in_flight",
		Help:      "Adapter calls currently holding a pool slot.",
	}, func() float64 { return float64(running()) }))
}

// TrackGeneration registers a gauge reading the snapshot generation.
func (m *Metrics) TrackGeneration(generation func() uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Name:      "snapshot_generation",
		Help:      "Global snapshot generation counter.",
	}, func() float64 { return float64(generation()) }))
}

// ObserveFetch records one settled adapter call.
func (m *Metrics) ObserveFetch(centerID string, out adapter.Outcome, duration time.Duration) {
	m.fetches.WithLabelValues(centerID, out.Label()).Inc()
	m.latency.WithLabelValues(centerID).Observe(duration.Seconds())
}

// ObserveFreshness sets the one-hot freshness gauges of a center.
func (m *Metrics) ObserveFreshness(centerID string, state snapshot.Freshness) {
	for _, s := range freshnessStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.freshness.WithLabelValues(centerID, s.String()).Set(v)
	}
}

// Registry returns the underlying registry for use with HTTP handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus registry via an http.Handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
