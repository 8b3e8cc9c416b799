// Package log provides one sugared zap logger per subsystem, the way the
// nspcc-dev/neo-go consensus service wires s.log from a shared zap backend.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.Mutex
	backend *zap.Logger
)

// Init installs the process-wide zap backend. dev selects a human-readable
// console encoder; otherwise JSON production logging is used. Init is safe
// to call once at startup; subsystem loggers taken before Init fall back to
// a no-op logger so tests never need it.
func Init(dev bool) error {
	mu.Lock()
	defer mu.Unlock()

	var l *zap.Logger
	var err error
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	backend = l
	return nil
}

// New returns a sugared logger tagged with the given subsystem name, e.g.
// "consensus", "mempool", "network", "ledger".
func New(subsystem string) *zap.SugaredLogger {
	mu.Lock()
	b := backend
	mu.Unlock()

	if b == nil {
		b = zap.NewNop()
	}
	return b.With(zap.String("subsystem", subsystem)).Sugar()
}
