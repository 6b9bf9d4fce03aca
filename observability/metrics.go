package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics aggregates the counters and gauges the block pipeline and the
// submission path report. Registration is lazy and process-wide; every caller
// shares one instance.
type NodeMetrics struct {
	BlocksCommitted prometheus.Counter
	CommittedHeight prometheus.Gauge
	TxsDelivered    *prometheus.CounterVec
	TxsChecked      *prometheus.CounterVec
	ForwardedTxs    *prometheus.CounterVec
	CommitLatency   prometheus.Histogram
}

var (
	nodeMetricsOnce sync.Once
	nodeRegistry    *NodeMetrics
)

// Node returns the lazily-initialised node metrics registry.
func Node() *NodeMetrics {
	nodeMetricsOnce.Do(func() {
		nodeRegistry = &NodeMetrics{
			BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lumen",
				Subsystem: "node",
				Name:      "blocks_committed_total",
				Help:      "Total blocks durably committed.",
			}),
			CommittedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lumen",
				Subsystem: "node",
				Name:      "committed_height",
				Help:      "Height of the last durably committed block.",
			}),
			TxsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lumen",
				Subsystem: "node",
				Name:      "txs_delivered_total",
				Help:      "Delivered transactions segmented by outcome.",
			}, []string{"outcome"}),
			TxsChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lumen",
				Subsystem: "node",
				Name:      "txs_checked_total",
				Help:      "Mempool admission checks segmented by outcome.",
			}, []string{"outcome"}),
			ForwardedTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lumen",
				Subsystem: "forwarder",
				Name:      "txs_total",
				Help:      "Transactions forwarded to the consensus mempool, by mode and outcome.",
			}, []string{"mode", "outcome"}),
			CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lumen",
				Subsystem: "node",
				Name:      "commit_duration_seconds",
				Help:      "Latency distribution of the commit pipeline.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			nodeRegistry.BlocksCommitted,
			nodeRegistry.CommittedHeight,
			nodeRegistry.TxsDelivered,
			nodeRegistry.TxsChecked,
			nodeRegistry.ForwardedTxs,
			nodeRegistry.CommitLatency,
		)
	})
	return nodeRegistry
}
