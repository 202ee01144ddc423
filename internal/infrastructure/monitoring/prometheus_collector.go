package monitoring

import (
	"context"
	"strconv"
	"time"

	"voxsfu/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is polled for live object counts.
type StatsSource interface {
	Stats() domain.SessionStats
}

type PrometheusCollector struct {
	// Gauges
	roomsActive      prometheus.Gauge
	peersConnected   prometheus.Gauge
	transportsActive prometheus.Gauge
	producersActive  prometheus.Gauge
	consumersActive  prometheus.Gauge
	routersPerWorker *prometheus.GaugeVec
	connectionsOpen  prometheus.Gauge

	// Counters
	connectionsTotal *prometheus.CounterVec
	signalOpsTotal   *prometheus.CounterVec

	// Histograms
	signalOpDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collector's metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	p := &PrometheusCollector{
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_rooms_active",
			Help: "Number of live rooms",
		}),
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_peers_connected",
			Help: "Number of peers across all rooms",
		}),
		transportsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_transports_active",
			Help: "Number of open media transports",
		}),
		producersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_producers_active",
			Help: "Number of live producers",
		}),
		consumersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_consumers_active",
			Help: "Number of live consumers",
		}),
		routersPerWorker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxsfu_worker_routers",
			Help: "Number of routers hosted by each media worker",
		}, []string{"worker_id"}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxsfu_signal_connections_open",
			Help: "Number of open signaling connections",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsfu_signal_connections_total",
			Help: "Signaling connection attempts by result",
		}, []string{"result"}),
		signalOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsfu_signal_ops_total",
			Help: "Signaling operations by op and result code",
		}, []string{"op", "result"}),
		signalOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxsfu_signal_op_duration_seconds",
			Help:    "Duration of signaling operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
	}

	reg.MustRegister(
		p.roomsActive,
		p.peersConnected,
		p.transportsActive,
		p.producersActive,
		p.consumersActive,
		p.routersPerWorker,
		p.connectionsOpen,
		p.connectionsTotal,
		p.signalOpsTotal,
		p.signalOpDuration,
	)
	return p
}

// RecordSignalOp counts one operation. result is "ok" or an error code.
func (p *PrometheusCollector) RecordSignalOp(op, result string, duration time.Duration) {
	p.signalOpsTotal.WithLabelValues(op, result).Inc()
	p.signalOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsOpen.Inc()
	p.connectionsTotal.WithLabelValues("accepted").Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsOpen.Dec()
}

func (p *PrometheusCollector) RecordConnectionRejected(reason string) {
	p.connectionsTotal.WithLabelValues(reason).Inc()
}

// UpdateSessionStats sets the gauges from a stats snapshot.
func (p *PrometheusCollector) UpdateSessionStats(stats domain.SessionStats) {
	p.roomsActive.Set(float64(stats.Rooms))
	p.peersConnected.Set(float64(stats.Peers))
	p.transportsActive.Set(float64(stats.Transports))
	p.producersActive.Set(float64(stats.Producers))
	p.consumersActive.Set(float64(stats.Consumers))
	for id, n := range stats.RoutersPerWorker {
		p.routersPerWorker.WithLabelValues(strconv.Itoa(int(id))).Set(float64(n))
	}
}

// Run polls src every interval until ctx is done.
func (p *PrometheusCollector) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	p.UpdateSessionStats(src.Stats())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.UpdateSessionStats(src.Stats())
		}
	}
}
