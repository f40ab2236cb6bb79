// Package metrics exposes Prometheus counters for the read receipts server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "readreceipts"

// Metrics holds the server's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	cursorAdvances    *prometheus.CounterVec
	readCountLookups  *prometheus.CounterVec
	sideEffectErrors  *prometheus.CounterVec
	gatewayConns      prometheus.Gauge
	gatewayDispatches prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cursorAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_advances_total",
			Help:      "Read cursor advance requests by outcome.",
		}, []string{"result"}),
		readCountLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_count_lookups_total",
			Help:      "Read count lookups by cache outcome.",
		}, []string{"cache"}),
		sideEffectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_errors_total",
			Help:      "Failed cache invalidations and event publishes after a cursor advance.",
		}, []string{"kind"}),
		gatewayConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open gateway connections.",
		}),
		gatewayDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Events dispatched to channels.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cursorAdvances,
		m.readCountLookups,
		m.sideEffectErrors,
		m.gatewayConns,
		m.gatewayDispatches,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CursorAdvanced records an advance request; moved is false when the stored
// cursor was already at or past the requested position.
func (m *Metrics) CursorAdvanced(moved bool) {
	if m == nil {
		return
	}
	result := "unchanged"
	if moved {
		result = "advanced"
	}
	m.cursorAdvances.WithLabelValues(result).Inc()
}

// ReadCountLookup records a read count lookup.
func (m *Metrics) ReadCountLookup(cacheHit bool) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.readCountLookups.WithLabelValues(cache).Inc()
}

// SideEffectFailed records a failed post-advance side effect, such as
// "invalidate" or "publish".
func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(kind).Inc()
}

// SetGatewayConnections records the number of open gateway connections.
func (m *Metrics) SetGatewayConnections(n int) {
	if m == nil {
		return
	}
	m.gatewayConns.Set(float64(n))
}

// GatewayDispatched counts one channel dispatch.
func (m *Metrics) GatewayDispatched() {
	if m == nil {
		return
	}
	m.gatewayDispatches.Inc()
}
