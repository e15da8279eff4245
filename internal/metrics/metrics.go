// Package metrics provides Prometheus-based metrics collection for
// netmapper. Collection is optional; a nil *Metrics is safe to call so
// components never need to guard their instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "netmapper"

	subsystemScan    = "scan"
	subsystemStore   = "store"
	subsystemGateway = "gateway"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	blockFailures   prometheus.Counter
	hostsDiscovered prometheus.Counter
	activeScans     prometheus.Gauge

	storeQueries      *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
	retentionDeleted  prometheus.Counter

	gatewayRequests    *prometheus.CounterVec
	gatewayRejected    *prometheus.CounterVec
	gatewayConnections prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics instance with all collectors registered, plus the
// standard Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemScan, Name: "total",
			Help: "Total scans started by mode and outcome",
		}, []string{"mode", "status"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystemScan, Name: "duration_seconds",
			Help:    "Duration of complete scan jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		}, []string{"mode"}),
		blockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemScan, Name: "block_failures_total",
			Help: "Scan blocks whose discovery sweep failed",
		}),
		hostsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemScan, Name: "hosts_discovered_total",
			Help: "Hosts discovered across all scans",
		}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystemScan, Name: "active",
			Help: "Scan jobs currently running",
		}),
		storeQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemStore, Name: "queries_total",
			Help: "Store operations by name",
		}, []string{"operation"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemStore, Name: "errors_total",
			Help: "Store operation failures by name",
		}, []string{"operation"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemStore, Name: "retention_deleted_total",
			Help: "Scans removed by the retention sweep",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemGateway, Name: "requests_total",
			Help: "Gateway requests by command and status",
		}, []string{"command", "status"}),
		gatewayRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemGateway, Name: "rejected_total",
			Help: "Gateway requests rejected before dispatch",
		}, []string{"reason"}),
		gatewayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystemGateway, Name: "connections_active",
			Help: "Gateway connections currently open",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.scansTotal, m.scanDuration, m.blockFailures, m.hostsDiscovered, m.activeScans,
		m.storeQueries, m.storeErrors, m.retentionDeleted,
		m.gatewayRequests, m.gatewayRejected, m.gatewayConnections,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ScanStarted(mode string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(mode, "started").Inc()
	m.activeScans.Inc()
}

func (m *Metrics) ScanFinished(mode string, duration time.Duration, hosts int) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(mode, "completed").Inc()
	m.scanDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.hostsDiscovered.Add(float64(hosts))
	m.activeScans.Dec()
}

func (m *Metrics) BlockFailed() {
	if m == nil {
		return
	}
	m.blockFailures.Inc()
}

func (m *Metrics) StoreQuery(operation string, err error) {
	if m == nil {
		return
	}
	m.storeQueries.WithLabelValues(operation).Inc()
	if err != nil {
		m.storeErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RetentionDeleted(count int64) {
	if m == nil {
		return
	}
	m.retentionDeleted.Add(float64(count))
}

func (m *Metrics) GatewayRequest(command, status string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(command, status).Inc()
}

func (m *Metrics) GatewayRejected(reason string) {
	if m == nil {
		return
	}
	m.gatewayRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.gatewayConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.gatewayConnections.Dec()
}
