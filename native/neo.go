package native

import (
	"encoding/binary"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

// GasPerBlock is the fixed GAS reward minted to the block's primary
// validator each height, this core's simplified stand-in for Neo's
// holder-proportional NEO-dividend distribution (full per-holder
// distribution needs an account/vote index this core's scope doesn't
// otherwise require; documented in DESIGN.md).
const GasPerBlock int64 = 5_00000000 // 5 GAS, 8-decimal fixed point

var neoKeyCommitteeSize = []byte{0x01}

// NeoToken tracks the active validator/committee set and drives the
// per-block GAS issuance, mirroring original_source's neo_token_gas.cpp.
type NeoToken struct {
	validators *payload.ValidatorSet
	gas        *GasToken
}

// NewNeoToken builds a NeoToken over the network's (currently static)
// validator set, crediting GAS rewards through gas.
func NewNeoToken(validators *payload.ValidatorSet, gas *GasToken) *NeoToken {
	return &NeoToken{validators: validators, gas: gas}
}

func (n *NeoToken) ID() int32    { return IDNeoToken }
func (n *NeoToken) Name() string { return "NeoToken" }

// OnPersist mints this height's GAS reward to the block's primary
// validator's script hash, run before the block's own transactions so the
// reward is available as fee-paying balance within the same block if
// needed.
func (n *NeoToken) OnPersist(snap storage.Snapshot, block *payload.Block) error {
	if int(block.PrimaryIndex) >= n.validators.N() {
		return nil // primary index outside the validator set (e.g. an empty set), nothing to reward
	}
	primary := n.validators.Keys[block.PrimaryIndex]
	account := crypto.Hash160(payload.BuildSingleSigVerificationScript(primary))
	return n.gas.Mint(snap, account, GasPerBlock)
}

// PostPersist records this height's committee size under NeoToken's storage
// keyspace (Committee returns the keys from memory, not from this record);
// the validator set itself doesn't rotate in this core's scope
// (no NEO-holder voting — spec.md §1 Non-goals), only the GAS flow.
func (n *NeoToken) PostPersist(snap storage.Snapshot, block *payload.Block) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n.validators.N()))
	snap.Put(storage.StorageKey(IDNeoToken, neoKeyCommitteeSize), b[:])
	return nil
}

// Committee returns the current validator public keys.
func (n *NeoToken) Committee() []*crypto.PublicKey { return n.validators.Keys }
