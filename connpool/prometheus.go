package connpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/workersql/workersql-go/internal/prometheusint"
)

const poolLabel = "pool"

var poolLabels = []string{poolLabel}

var (
	totalConnectionsGauge = promauto.With(prometheusint.GlobalRegistry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "workersql_pool_total_connections",
		Help: "Number of connections currently owned by the pool",
	}, poolLabels)

	activeConnectionsGauge = promauto.With(prometheusint.GlobalRegistry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "workersql_pool_active_connections",
		Help: "Number of connections currently leased out",
	}, poolLabels)

	idleConnectionsGauge = promauto.With(prometheusint.GlobalRegistry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "workersql_pool_idle_connections",
		Help: "Number of connections currently idle in the pool",
	}, poolLabels)

	peakActiveGauge = promauto.With(prometheusint.GlobalRegistry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "workersql_pool_peak_active_connections",
		Help: "High watermark of concurrently leased connections",
	}, poolLabels)

	connectionsCreatedCounter = promauto.With(prometheusint.GlobalRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "workersql_pool_connections_created_total",
		Help: "Total transports opened by the pool",
	}, poolLabels)

	evictionsCounter = promauto.With(prometheusint.GlobalRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "workersql_pool_idle_evictions_total",
		Help: "Total connections evicted by the health sweep",
	}, poolLabels)

	acquireTimeoutsCounter = promauto.With(prometheusint.GlobalRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "workersql_pool_acquire_timeouts_total",
		Help: "Total Acquire calls that failed waiting for a connection",
	}, poolLabels)

	exhaustedWaitsCounter = promauto.With(prometheusint.GlobalRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "workersql_pool_exhausted_waits_total",
		Help: "Total Acquire calls that had to wait on an exhausted pool",
	}, poolLabels)
)

// updateGaugesLocked refreshes the gauges from the current map state.
// Callers must hold p.mu.
func (p *Pool) updateGaugesLocked() {
	stats := p.statsLocked()
	totalConnectionsGauge.WithLabelValues(p.cfg.Name).Set(float64(stats.Total))
	activeConnectionsGauge.WithLabelValues(p.cfg.Name).Set(float64(stats.Active))
	idleConnectionsGauge.WithLabelValues(p.cfg.Name).Set(float64(stats.Idle))
	peakActiveGauge.WithLabelValues(p.cfg.Name).Set(float64(p.active.Max()))
}
