// Package native implements spec.md §4.H's native contract dispatch: a
// fixed set of built-in contracts invoked directly by the executor at
// block-persist boundaries rather than through ordinary script execution
// (the VM itself stays out of this core's scope per spec.md §1 Non-goals).
// Grounded semantically on original_source's
// src/smartcontract/native/neo_token_gas.cpp (GAS issuance tied to NEO's
// per-block OnPersist) and src/smartcontract/native/oracle_contract_requests.cpp
// (pending-request bookkeeping resolved by a later transaction's attribute),
// reworked into this core's storage.Snapshot-based state model
// (storage.StorageKey already reserves a per-contract-id keyspace for
// exactly this purpose).
package native

import (
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

// Contract IDs are this core's own stable assignment (no ContractManagement
// native exists here, so nothing else claims -1..-5), mirroring how
// network/wire.Command assigns its own byte values for a fixed message set.
const (
	IDPolicy        int32 = -1
	IDNeoToken      int32 = -2
	IDGasToken      int32 = -3
	IDRoleManagement int32 = -4
	IDOracle        int32 = -5
)

// Contract is one native contract's dispatch surface. OnPersist runs before
// a block's transactions execute; PostPersist runs after, once the block is
// otherwise fully applied — the same two-phase hook the teacher's pack
// (and original_source) calls onPersist/postPersist.
type Contract interface {
	ID() int32
	Name() string
	OnPersist(snap storage.Snapshot, block *payload.Block) error
	PostPersist(snap storage.Snapshot, block *payload.Block) error
}

// Registry holds the fixed set of native contracts, dispatched in a stable
// order (ID -1, -2, ..., -5) so OnPersist/PostPersist side effects are
// deterministic across every validator.
type Registry struct {
	byID    map[int32]Contract
	ordered []Contract
}

// NewRegistry wires the five contracts spec.md §4.H names, in dependency
// order: GasToken before NeoToken so NeoToken's OnPersist can mint into it,
// then Policy/RoleManagement/Oracle which have no cross-contract calls at
// persist time.
func NewRegistry(validators *payload.ValidatorSet) *Registry {
	gas := NewGasToken()
	neo := NewNeoToken(validators, gas)
	policy := NewPolicyContract()
	role := NewRoleManagement()
	oracle := NewOracleContract()

	r := &Registry{byID: make(map[int32]Contract, 5)}
	for _, c := range []Contract{gas, neo, policy, role, oracle} {
		r.byID[c.ID()] = c
	}
	r.ordered = []Contract{policy, neo, gas, role, oracle} // by ID: -1, -2, ..., -5

	return r
}

// Get returns the contract registered under id, or nil.
func (r *Registry) Get(id int32) Contract { return r.byID[id] }

// Policy returns the typed PolicyContract for callers that need its methods
// directly rather than through the generic Contract interface.
func (r *Registry) Policy() *PolicyContract { return r.byID[IDPolicy].(*PolicyContract) }

// Neo returns the typed NeoToken.
func (r *Registry) Neo() *NeoToken { return r.byID[IDNeoToken].(*NeoToken) }

// Gas returns the typed GasToken.
func (r *Registry) Gas() *GasToken { return r.byID[IDGasToken].(*GasToken) }

// Role returns the typed RoleManagement contract.
func (r *Registry) Role() *RoleManagement { return r.byID[IDRoleManagement].(*RoleManagement) }

// Oracle returns the typed OracleContract.
func (r *Registry) Oracle() *OracleContract { return r.byID[IDOracle].(*OracleContract) }

// OnPersist runs every contract's OnPersist hook in registration order,
// ahead of transaction execution for the block.
func (r *Registry) OnPersist(snap storage.Snapshot, block *payload.Block) error {
	for _, c := range r.ordered {
		if err := c.OnPersist(snap, block); err != nil {
			return err
		}
	}
	return nil
}

// PostPersist runs every contract's PostPersist hook in registration order,
// after transaction execution for the block has completed.
func (r *Registry) PostPersist(snap storage.Snapshot, block *payload.Block) error {
	for _, c := range r.ordered {
		if err := c.PostPersist(snap, block); err != nil {
			return err
		}
	}
	return nil
}
