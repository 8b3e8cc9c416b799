// Package ledger implements spec.md §4.E: the blockchain executor.
package ledger

import (
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

// Notification is a single VM notify event, recorded in the application log
// an observer can later query (out of this core's scope to store long-term,
// but produced here per spec.md §4.E step 4d).
type Notification struct {
	ContractHash payload.Hash20
	EventName    string
	State        []byte
}

// ExecutionResult is what the out-of-scope VM returns for one transaction's
// script invocation.
type ExecutionResult struct {
	Faulted       bool
	GasConsumed   int64
	Notifications []Notification
}

// Engine is the seam the VM implements; the executor never inspects
// opcodes itself (spec.md §1 Non-goals: no VM opcode implementation here).
type Engine interface {
	// RunScript executes script against snapshot with gasLimit, charged in
	// the same unit as Transaction.SystemFee.
	RunScript(snapshot storage.Snapshot, script []byte, gasLimit int64) (*ExecutionResult, error)
}

// NoopEngine is a trivial Engine used by tests and the genesis bootstrap
// path: every script succeeds and consumes zero gas. It stands in for the
// real VM, which lives outside this core.
type NoopEngine struct{}

func (NoopEngine) RunScript(storage.Snapshot, []byte, int64) (*ExecutionResult, error) {
	return &ExecutionResult{}, nil
}
