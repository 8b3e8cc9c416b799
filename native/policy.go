package native

import (
	"encoding/binary"

	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

var (
	policyKeyFeePerByte = []byte{0x01}
	policyKeyBlocked    = []byte{0x02} // StorageContractPrefix + this, then + account
)

// PolicyContract stores a network fee rate and a blocked-account list,
// mirroring Neo's PolicyContract. It holds no size caps: the ledger and
// mempool apply config.PolicyCaps directly, and nothing copies those values
// into this contract's state.
type PolicyContract struct{}

// NewPolicyContract builds an unconfigured PolicyContract. Nothing in this
// core calls SetFeePerByte, so FeePerByte returns its fallback until a
// caller does.
func NewPolicyContract() *PolicyContract { return &PolicyContract{} }

func (c *PolicyContract) ID() int32    { return IDPolicy }
func (c *PolicyContract) Name() string { return "PolicyContract" }

// OnPersist does nothing for Policy: its state only changes via explicit
// governance transactions (SetFeePerByte, BlockAccount), never as a
// function of block contents.
func (c *PolicyContract) OnPersist(storage.Snapshot, *payload.Block) error { return nil }

// PostPersist does nothing for Policy, for the same reason.
func (c *PolicyContract) PostPersist(storage.Snapshot, *payload.Block) error { return nil }

func (c *PolicyContract) key(suffix []byte) []byte {
	return storage.StorageKey(IDPolicy, suffix)
}

// FeePerByte returns the current network fee rate, falling back to
// fallback when chain state hasn't set one yet (pre-genesis or a fresh
// test snapshot).
func (c *PolicyContract) FeePerByte(snap storage.Snapshot, fallback int64) int64 {
	raw, ok := snap.Get(c.key(policyKeyFeePerByte))
	if !ok {
		return fallback
	}
	return int64(binary.LittleEndian.Uint64(raw))
}

// SetFeePerByte installs a new network fee rate.
func (c *PolicyContract) SetFeePerByte(snap storage.Snapshot, fee int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(fee))
	snap.Put(c.key(policyKeyFeePerByte), b[:])
}

// IsBlocked reports whether account is on the policy blocklist. Neither
// mempool admission nor block verification calls it in this core.
func (c *PolicyContract) IsBlocked(snap storage.Snapshot, account payload.Hash20) bool {
	_, ok := snap.Get(c.blockedKey(account))
	return ok
}

// BlockAccount adds account to the blocklist.
func (c *PolicyContract) BlockAccount(snap storage.Snapshot, account payload.Hash20) {
	snap.Put(c.blockedKey(account), []byte{1})
}

// UnblockAccount removes account from the blocklist.
func (c *PolicyContract) UnblockAccount(snap storage.Snapshot, account payload.Hash20) {
	snap.Delete(c.blockedKey(account))
}

func (c *PolicyContract) blockedKey(account payload.Hash20) []byte {
	return c.key(append(append([]byte{}, policyKeyBlocked...), account[:]...))
}
