// Command neod runs one Neo N3 core node process: storage, ledger, mempool,
// the P2P plane and, if a validator key is supplied, the dBFT consensus
// Service. Wiring follows the teacher's apiserver/main.go shape (parse
// config, connect collaborators with deferred cleanup, block on an
// interrupt signal) adapted from kaspad.go's start/stop split.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo-core/neod/config"
	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "neod:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    = flag.String("config", "", "path to a YAML config file; defaults to a single-node genesis configuration")
		devLog        = flag.Bool("dev-log", false, "use human-readable console logging instead of JSON")
		validatorHex  = flag.String("validator-key", "", "hex-encoded secp256r1 private key; if set, this node also runs consensus")
		validatorIdx  = flag.Int("validator-index", -1, "this node's index into the configured validator set (required with -validator-key)")
		genesisOnly   = flag.Bool("bootstrap", false, "install the genesis block on a fresh store, then exit")
	)
	flag.Parse()

	if err := log.Init(*devLog); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := log.New("main")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var opts []node.Option
	if *validatorHex != "" {
		signer, err := parseValidatorKey(*validatorHex)
		if err != nil {
			return fmt.Errorf("parse validator key: %w", err)
		}
		opts = append(opts, node.WithValidatorKey(signer, *validatorIdx))
	}

	n, err := node.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	if *genesisOnly {
		return n.Bootstrap(uint64(time.Now().Unix()))
	}

	if n.Blockchain().Height() == 0 {
		if err := n.Bootstrap(uint64(time.Now().Unix())); err != nil {
			logger.Errorw("bootstrap failed, assuming store already has a genesis block", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Stop()

	logger.Infow("neod running", "magic", cfg.NetworkMagic, "bind", cfg.P2PBindAddress)
	<-interruptListener()
	logger.Infow("interrupt received, shutting down")
	return nil
}

func loadConfig(path string) (*config.ProtocolConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data)
}

// parseValidatorKey reconstructs an ecdsa.PrivateKey from a raw 32-byte
// scalar, deriving the public point the way crypto.PrivateKey expects it
// populated (ecdsa.GenerateKey does the same ScalarBaseMult internally).
func parseValidatorKey(hexKey string) (*crypto.PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	d := new(big.Int).SetBytes(raw)
	x, y := crypto.Curve.ScalarBaseMult(d.Bytes())
	priv := &crypto.PrivateKey{PrivateKey: ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: crypto.Curve, X: x, Y: y},
		D:         d,
	}}
	return priv, nil
}

// interruptListener mirrors the teacher's signal.InterruptListener: a
// channel closed on the first SIGINT/SIGTERM, for a single blocking
// receive in main.
func interruptListener() <-chan struct{} {
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(done)
	}()
	return done
}
