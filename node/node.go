// Package node is the explicit aggregate spec.md §9 calls for in place of
// the teacher's singleton LocalNode pattern (daglabs-btcd/kaspad.go's
// package-level getInstance style): one Node struct owns storage, ledger,
// mempool, consensus and the network plane, wired together once in New and
// torn down in reverse in Stop, with typed accessors instead of ambient
// lookups.
package node

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"fmt"

	"github.com/neo-core/neod/config"
	"github.com/neo-core/neod/consensus"
	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/ledger"
	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/mempool"
	"github.com/neo-core/neod/metrics"
	"github.com/neo-core/neod/network"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
	"github.com/neo-core/neod/storage/boltstore"
	"github.com/neo-core/neod/storage/leveldbstore"
	"github.com/neo-core/neod/storage/memstore"
	"github.com/prometheus/client_golang/prometheus"
)

// zapSugared narrows log.New's return type to what Node needs.
type zapSugared interface {
	Infow(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// Node wires spec.md §4's modules into one running process: the sole
// writer of storage.Store (ledger.Blockchain), the admission queue
// (mempool.Pool), the optional dBFT participant (consensus.Service), and
// the P2P plane (network.Server), plus an Observer fan-out tying block and
// transaction events to both.
type Node struct {
	cfg    *config.ProtocolConfig
	logger zapSugared

	store      storage.Store
	validators *payload.ValidatorSet
	blockchain *ledger.Blockchain
	mempool    *mempool.Pool
	consensus  *consensus.Service // nil on a non-validating relay node
	network    *network.Server
	metrics    *metrics.Metrics
}

// Option customizes New's construction, e.g. supplying a validator signing
// key so this process also runs the consensus Service.
type Option func(*buildState)

type buildState struct {
	signer  *crypto.PrivateKey
	myIndex int
	reg     prometheus.Registerer
}

// WithValidatorKey makes this Node a consensus participant at myIndex in
// the configured validator set, signing with signer.
func WithValidatorKey(signer *crypto.PrivateKey, myIndex int) Option {
	return func(b *buildState) {
		b.signer = signer
		b.myIndex = myIndex
	}
}

// WithMetricsRegistry overrides the Prometheus registry metrics are
// registered against (tests use a fresh one to avoid global-registry
// collisions across parallel subtests).
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(b *buildState) { b.reg = reg }
}

// New builds every module from cfg but does not start anything; call
// Bootstrap (once, on a fresh store) and then Start.
func New(cfg *config.ProtocolConfig, opts ...Option) (*Node, error) {
	b := &buildState{myIndex: -1, reg: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(b)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	validators, err := parseValidators(cfg.Validators)
	if err != nil {
		return nil, err
	}

	m := metrics.New(b.reg)

	n := &Node{
		cfg:        cfg,
		logger:     log.New("node"),
		store:      store,
		validators: validators,
		metrics:    m,
	}

	n.blockchain = ledger.New(store, cfg.Policy, validators, ledger.NoopEngine{}, n)

	n.mempool = mempool.New(mempool.Config{
		Capacity:                    cfg.MempoolCapacity,
		MaxPerSender:                cfg.MempoolMaxPerSender,
		MinFeePerByte:               cfg.Policy.FeePerByte,
		ReVerifyBatchSize:           cfg.ReVerifyBatchSize,
		MaxValidUntilBlockIncrement: cfg.Policy.MaxValidUntilBlockIncrement,
	}, n.blockchain, n)

	n.network = network.New(*cfg, n.blockchain, n.mempool, m)

	if b.signer != nil {
		if b.myIndex < 0 || b.myIndex >= validators.N() {
			return nil, fmt.Errorf("node: validator index %d out of range for %d validators", b.myIndex, validators.N())
		}
		n.consensus = consensus.New(
			consensus.Config{BlockTime: cfg.SecondsPerBlock, Magic: cfg.NetworkMagic},
			validators, b.myIndex, b.signer, n.mempool, n.blockchain, n.network, n, m,
		)
		n.network.SetConsensus(n.consensus)
	}

	return n, nil
}

func openStore(cfg *config.ProtocolConfig) (storage.Store, error) {
	switch cfg.StorageEngine {
	case "", "memory":
		return memstore.New(), nil
	case "bbolt":
		return boltstore.Open(cfg.StoragePath)
	case "leveldb":
		return leveldbstore.Open(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("node: unknown storage engine %q", cfg.StorageEngine)
	}
}

func parseValidators(hexKeys []string) (*payload.ValidatorSet, error) {
	keys := make([]*crypto.PublicKey, len(hexKeys))
	for i, h := range hexKeys {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("node: validator %d: %w", i, err)
		}
		x, y := elliptic.UnmarshalCompressed(crypto.Curve, raw)
		if x == nil {
			return nil, fmt.Errorf("node: validator %d: invalid compressed public key", i)
		}
		keys[i] = &crypto.PublicKey{PublicKey: ecdsa.PublicKey{Curve: crypto.Curve, X: x, Y: y}}
	}
	return &payload.ValidatorSet{Keys: keys}, nil
}

// Bootstrap installs the genesis block. It does not inspect the store:
// Blockchain.Bootstrap refuses only when this process already has a tip.
// Callers on a
// store that already has a tip must not call this; the way to tell is
// whatever the caller's storage engine selection already implies (a fresh
// path vs. an existing data directory).
func (n *Node) Bootstrap(timestamp uint64) error {
	verScript := n.validators.VerificationScript()
	genesis := &payload.Block{
		Header: payload.Header{
			Version:       0,
			Timestamp:     timestamp,
			Index:         0,
			PrimaryIndex:  0,
			NextConsensus: n.validators.ScriptHash(),
			Witness:       payload.Witness{VerificationScript: verScript},
		},
	}
	return n.blockchain.Bootstrap(genesis)
}

// Start brings up the network plane and, if configured, the consensus
// Service, in that order so consensus's first PrepareRequest has somewhere
// to broadcast to.
func (n *Node) Start(ctx context.Context) error {
	if err := n.network.Start(ctx); err != nil {
		return err
	}
	if n.consensus != nil {
		n.consensus.Start()
	}
	n.logger.Infow("node started", "height", n.blockchain.Height(), "bind", n.cfg.P2PBindAddress)
	return nil
}

// Stop implements spec.md §5's shutdown sequence: stop network ingress
// first so no new work arrives, then consensus (it may still be mid-round
// but won't receive anything further), then flush the store. The executor
// itself has no separate lifecycle in this core (no VM worker pool to
// drain — spec.md §1 Non-goals), so there is no distinct "stop executor"
// step.
func (n *Node) Stop() {
	n.network.Stop()
	if n.consensus != nil {
		n.consensus.Stop()
	}
	if err := n.store.Close(); err != nil {
		n.logger.Errorw("store close failed", "err", err)
	}
	n.logger.Infow("node stopped")
}

// OnBlockPersisted implements ledger.Observer: advances consensus to the
// next height, relays the new tip to peers, and updates metrics.
func (n *Node) OnBlockPersisted(height uint32, hash payload.Hash32) {
	n.metrics.ChainHeight.Set(float64(height))
	n.metrics.BlocksPersisted.Inc()
	if n.consensus != nil {
		n.consensus.OnBlockPersisted(height, hash)
	}
	n.network.BroadcastBlock(hash)
	checked, dropped := n.mempool.ReVerify(height, false)
	n.logger.Infow("block persisted", "height", height, "reverify_checked", checked, "reverify_dropped", dropped)
}

// OnConsensusPhase implements consensus.Observer.
func (n *Node) OnConsensusPhase(height uint32, view uint8, phase string) {
	n.metrics.ConsensusPhase.WithLabelValues(phase).Inc()
	n.logger.Infow("consensus phase", "height", height, "view", view, "phase", phase)
}

// OnTxAdded implements mempool.Observer: relays the new transaction and
// bumps metrics.
func (n *Node) OnTxAdded(hash payload.Hash32) {
	n.metrics.TxAdded.Inc()
	n.metrics.MempoolSize.Inc()
	n.network.BroadcastTx(hash)
}

// OnTxRemoved implements mempool.Observer.
func (n *Node) OnTxRemoved(hash payload.Hash32, reason string) {
	n.metrics.TxRemoved.WithLabelValues(reason).Inc()
	n.metrics.MempoolSize.Dec()
}

// Blockchain returns the ledger module.
func (n *Node) Blockchain() *ledger.Blockchain { return n.blockchain }

// Mempool returns the admission-queue module.
func (n *Node) Mempool() *mempool.Pool { return n.mempool }

// Consensus returns the dBFT service, or nil on a non-validating node.
func (n *Node) Consensus() *consensus.Service { return n.consensus }

// Network returns the P2P plane.
func (n *Node) Network() *network.Server { return n.network }

// Metrics returns the Prometheus collector bundle.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }
