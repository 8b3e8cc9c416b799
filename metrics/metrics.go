// Package metrics exposes the observability hooks of spec.md §6 as
// Prometheus gauges/counters, fed by the ledger, mempool, network and
// consensus packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the core's Prometheus collectors. A zero-value Metrics is
// not usable; call New to register everything on a fresh registry.
type Metrics struct {
	ChainHeight      prometheus.Gauge
	MempoolSize      prometheus.Gauge
	PeerCount        prometheus.Gauge
	TxAdded          prometheus.Counter
	TxRemoved        *prometheus.CounterVec
	BlocksPersisted  prometheus.Counter
	ConsensusPhase   *prometheus.CounterVec
	ReVerifyDropped  prometheus.Counter
	ViewChanges      prometheus.Counter
}

// New creates and registers the core metrics on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neo", Subsystem: "ledger", Name: "chain_height",
			Help: "Current persisted block height.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neo", Subsystem: "mempool", Name: "size",
			Help: "Number of transactions currently pooled.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neo", Subsystem: "network", Name: "peer_count",
			Help: "Number of connected peers.",
		}),
		TxAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "mempool", Name: "tx_added_total",
			Help: "Transactions admitted to the pool.",
		}),
		TxRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "mempool", Name: "tx_removed_total",
			Help: "Transactions removed from the pool, labeled by reason.",
		}, []string{"reason"}),
		BlocksPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "ledger", Name: "blocks_persisted_total",
			Help: "Blocks committed to the store.",
		}),
		ConsensusPhase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "consensus", Name: "phase_total",
			Help: "Consensus phase transitions, labeled by phase.",
		}, []string{"phase"}),
		ReVerifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "mempool", Name: "reverify_dropped_total",
			Help: "Pool entries dropped by the post-persist re-verify sweep.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neo", Subsystem: "consensus", Name: "view_changes_total",
			Help: "Completed view changes across all heights.",
		}),
	}

	reg.MustRegister(m.ChainHeight, m.MempoolSize, m.PeerCount, m.TxAdded,
		m.TxRemoved, m.BlocksPersisted, m.ConsensusPhase, m.ReVerifyDropped,
		m.ViewChanges)

	return m
}
