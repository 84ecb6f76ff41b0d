package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the trigger monitor.
type Metrics struct {
	// Upstream maproom metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint={regions,export}, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint={regions,export}
	UpstreamCache    *prometheus.CounterVec   // labels: endpoint={regions,export}, result={hit,miss}

	// Dashboard metrics.
	RowsServed  prometheus.Counter
	FetchErrors *prometheus.CounterVec // labels: kind

	SnapshotsPublished *prometheus.CounterVec // labels: outcome={success,error}
	ConfigCountries    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.UpstreamCache,
		m.RowsServed,
		m.FetchErrors,
		m.SnapshotsPublished,
		m.ConfigCountries,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigger_monitor",
			Name:      "upstream_requests_total",
			Help:      "Maproom API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trigger_monitor",
			Name:      "upstream_request_duration_seconds",
			Help:      "Maproom API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		UpstreamCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigger_monitor",
			Name:      "upstream_cache_total",
			Help:      "Maproom response cache lookups by endpoint and result.",
		}, []string{"endpoint", "result"}),
		RowsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trigger_monitor",
			Name:      "rows_served_total",
			Help:      "Trigger table rows returned to the dashboard.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigger_monitor",
			Name:      "fetch_errors_total",
			Help:      "Dashboard queries that failed, by error kind.",
		}, []string{"kind"}),
		SnapshotsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigger_monitor",
			Name:      "snapshots_published_total",
			Help:      "Trigger snapshots written to Kafka by outcome.",
		}, []string{"outcome"}),
		ConfigCountries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trigger_monitor",
			Name:      "config_countries",
			Help:      "Number of country entries in the loaded configuration.",
		}),
	}
}
