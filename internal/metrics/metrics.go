// Package metrics exposes the node's operational counters and gauges via
// prometheus/client_golang, replacing the teacher's hand-rolled atomic
// counters with a registry a real /metrics scrape endpoint can serve.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every gauge/counter the node reports. UTXO-set metrics
// from the teacher's collector are dropped outright: the data model has
// no UTXO set (spec §1 Non-goals), so there is nothing for them to count.
type Metrics struct {
	ChainHeight      prometheus.Gauge
	MempoolSize      prometheus.Gauge
	PeerCount        prometheus.Gauge
	BlocksProcessed  prometheus.Counter
	TxProcessed      prometheus.Counter
	ReorgCount       prometheus.Counter
	LastReorgDepth   prometheus.Gauge
	MiningHashRate   prometheus.Gauge
	BlockProcessTime prometheus.Histogram
}

// New creates and registers a Metrics bundle against reg. Pass
// prometheus.NewRegistry() for isolated test instances, or the default
// registry for process-wide use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingecoin",
			Name:      "chain_height",
			Help:      "Height of the active chain's tip.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingecoin",
			Name:      "mempool_size",
			Help:      "Number of transactions currently pooled.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingecoin",
			Name:      "peer_count",
			Help:      "Number of connected peers.",
		}),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingecoin",
			Name:      "blocks_processed_total",
			Help:      "Total blocks accepted by the consensus engine.",
		}),
		TxProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingecoin",
			Name:      "tx_processed_total",
			Help:      "Total transactions admitted to the mempool.",
		}),
		ReorgCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingecoin",
			Name:      "reorg_total",
			Help:      "Total chain reorganizations performed.",
		}),
		LastReorgDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingecoin",
			Name:      "last_reorg_depth",
			Help:      "Number of blocks disconnected by the most recent reorganization.",
		}),
		MiningHashRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingecoin",
			Name:      "mining_hash_rate",
			Help:      "Approximate nonces attempted per second by the local miner.",
		}),
		BlockProcessTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "klingecoin",
			Name:      "block_process_seconds",
			Help:      "Time spent validating and placing a received block.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ChainHeight,
		m.MempoolSize,
		m.PeerCount,
		m.BlocksProcessed,
		m.TxProcessed,
		m.ReorgCount,
		m.LastReorgDepth,
		m.MiningHashRate,
		m.BlockProcessTime,
	)
	return m
}
