// Package config holds the CLI/config surface of spec.md §6: network magic,
// validator set, storage engine selection, P2P bind endpoint, seed list,
// block time, policy caps and hardfork activation heights. Load parses it
// from YAML; flags and environment handling stay with the caller, the way
// the teacher's dagconfig separates network *parameters* from the CLI layer
// that picks among them.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyCaps bounds block construction and the mempool's admission rules.
type PolicyCaps struct {
	MaxTransactionsPerBlock int   `yaml:"max_tx_per_block"`
	MaxBlockSize            int   `yaml:"max_block_size"`
	MaxBlockSystemFee       int64 `yaml:"max_block_system_fee"`
	MaxTransactionSize      int   `yaml:"max_transaction_size"`
	FeePerByte              int64 `yaml:"fee_per_byte"`
	MaxValidUntilBlockIncrement uint32 `yaml:"max_valid_until_block_increment"`
}

// DefaultPolicyCaps mirrors MainNet-scale defaults.
func DefaultPolicyCaps() PolicyCaps {
	return PolicyCaps{
		MaxTransactionsPerBlock:     512,
		MaxBlockSize:                262144,
		MaxBlockSystemFee:           900000000000,
		MaxTransactionSize:          102400,
		FeePerByte:                  1000,
		MaxValidUntilBlockIncrement: 86400,
	}
}

// ProtocolConfig is the full per-network configuration a Node is built
// from.
type ProtocolConfig struct {
	NetworkMagic    uint32            `yaml:"network_magic"`
	Validators      []string          `yaml:"validators"` // hex-encoded compressed secp256r1 public keys
	StorageEngine   string            `yaml:"storage_engine"` // "memory" | "leveldb" | "bbolt"
	StoragePath     string            `yaml:"storage_path"`
	P2PBindAddress  string            `yaml:"p2p_bind_address"`
	SeedList        []string          `yaml:"seed_list"`
	SecondsPerBlock time.Duration     `yaml:"seconds_per_block"`
	Policy          PolicyCaps        `yaml:"policy"`
	Hardforks       map[string]uint32 `yaml:"hardforks"`

	MaxPeers            int `yaml:"max_peers"`
	MaxPeerSendQueue     int `yaml:"max_peer_send_queue"`
	HeaderBatchSize      int `yaml:"header_batch_size"`
	BlockRequestWindow   int `yaml:"block_request_window"`
	BlockRequestTimeout  time.Duration `yaml:"block_request_timeout"`
	MempoolCapacity      int `yaml:"mempool_capacity"`
	MempoolMaxPerSender  int `yaml:"mempool_max_per_sender"`
	ReVerifyBatchSize    int `yaml:"reverify_batch_size"`
}

// Load parses a YAML-encoded ProtocolConfig, applying defaults for fields
// the file omits.
func Load(data []byte) (*ProtocolConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a single-node-friendly configuration suitable for the
// genesis bootstrap scenario (spec.md §8 scenario 1).
func Default() *ProtocolConfig {
	return &ProtocolConfig{
		NetworkMagic:        0x334f454e, // "NEO3" little-endian
		StorageEngine:       "memory",
		P2PBindAddress:      "0.0.0.0:10333",
		SecondsPerBlock:      1 * time.Second,
		Policy:               DefaultPolicyCaps(),
		Hardforks:            map[string]uint32{},
		MaxPeers:             40,
		MaxPeerSendQueue:     1000,
		HeaderBatchSize:      2000,
		BlockRequestWindow:   500,
		BlockRequestTimeout:  15 * time.Second,
		MempoolCapacity:      50000,
		MempoolMaxPerSender:  20,
		ReVerifyBatchSize:    10000,
	}
}

// HardforkActive reports whether hardfork name is active at height.
func (c *ProtocolConfig) HardforkActive(name string, height uint32) bool {
	h, ok := c.Hardforks[name]
	if !ok {
		return false
	}
	return height >= h
}
