// Package metrics exposes redlite's own operational counters and gauges as Prometheus metrics
// (spec §4.K), modeled on the teacher's pkg/metrics.HTTPMetrics: a struct of
// promauto-registered collectors plus a promhttp.Handler, namespaced instead of reaching for the
// default global registerer so more than one *Metrics can exist in a test process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector redlite populates while serving commands.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	connectionsTotal prometheus.Counter
	connectionsOpen  prometheus.Gauge
	keysEvicted      *prometheus.CounterVec
	vacuumRuns       prometheus.Counter
	vacuumPagesFreed prometheus.Counter
	storePages       prometheus.Gauge
	storeFileBytes   prometheus.Gauge
}

// New builds a Metrics on its own registry, namespaced under "redlite", so more than one
// instance can coexist (one per embedded DB, in a test process, without collector-name
// collisions on the global DefaultRegisterer).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redlite",
				Name:      "commands_total",
				Help:      "Total commands dispatched, by verb and outcome.",
			},
			[]string{"command", "outcome"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "redlite",
				Name:      "command_duration_seconds",
				Help:      "Command dispatch latency in seconds, by verb.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"command"},
		),
		connectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "redlite",
				Name:      "connections_total",
				Help:      "Total connections accepted since startup.",
			},
		),
		connectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "redlite",
				Name:      "connections_open",
				Help:      "Currently open connections.",
			},
		),
		keysEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redlite",
				Name:      "keys_evicted_total",
				Help:      "Keys evicted under memory/disk pressure, by policy.",
			},
			[]string{"policy"},
		),
		vacuumRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "redlite",
				Name:      "vacuum_runs_total",
				Help:      "Completed VACUUM sweeps, manual or automatic.",
			},
		),
		vacuumPagesFreed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "redlite",
				Name:      "vacuum_pages_freed_total",
				Help:      "Pages reclaimed across all VACUUM sweeps.",
			},
		),
		storePages: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "redlite",
				Name:      "store_pages",
				Help:      "Current page count reported by the page store.",
			},
		),
		storeFileBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "redlite",
				Name:      "store_file_bytes",
				Help:      "Current on-disk size reported by the page store.",
			},
		),
	}
}

// Handler returns the HTTP handler internal/admin mounts at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// ObserveCommand records one dispatched command's outcome and latency.
func (m *Metrics) ObserveCommand(name string, outcome string, d time.Duration) {
	m.commandsTotal.WithLabelValues(name, outcome).Inc()
	m.commandDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ConnectionOpened records a newly accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsOpen.Inc()
}

// ConnectionClosed records a connection going away.
func (m *Metrics) ConnectionClosed() {
	m.connectionsOpen.Dec()
}

// KeyEvicted records one key evicted under the given policy.
func (m *Metrics) KeyEvicted(policy string) {
	m.keysEvicted.WithLabelValues(policy).Inc()
}

// VacuumCompleted records one VACUUM sweep that freed pagesFreed pages.
func (m *Metrics) VacuumCompleted(pagesFreed int) {
	m.vacuumRuns.Inc()
	m.vacuumPagesFreed.Add(float64(pagesFreed))
}

// SetStoreStats refreshes the page-store size gauges from a storage.StoreStats snapshot.
func (m *Metrics) SetStoreStats(pageCount, fileSizeBytes int64) {
	m.storePages.Set(float64(pageCount))
	m.storeFileBytes.Set(float64(fileSizeBytes))
}
