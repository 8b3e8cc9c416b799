package native

import (
	"encoding/binary"

	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

var gasKeyBalance = []byte{0x01} // + account

// GasToken is the network's fee/utility token: a plain balance ledger
// minted by NeoToken's per-block reward and spent as transaction fees,
// mirroring original_source's neo_token_gas.cpp pairing of the two
// contracts.
type GasToken struct{}

// NewGasToken builds an empty GasToken ledger.
func NewGasToken() *GasToken { return &GasToken{} }

func (g *GasToken) ID() int32    { return IDGasToken }
func (g *GasToken) Name() string { return "GasToken" }

// OnPersist is a no-op: GAS issuance happens in NeoToken.OnPersist, which
// mints the fixed GasPerBlock reward to the block's primary.
func (g *GasToken) OnPersist(storage.Snapshot, *payload.Block) error { return nil }

// PostPersist burns the system fee plus network fee of every transaction in
// the block from its sender, once the block is otherwise applied.
func (g *GasToken) PostPersist(snap storage.Snapshot, block *payload.Block) error {
	for _, tx := range block.Transactions {
		if err := g.Burn(snap, tx.Sender(), tx.SystemFee+tx.NetworkFee); err != nil {
			return err
		}
	}
	return nil
}

func (g *GasToken) key(account payload.Hash20) []byte {
	return storage.StorageKey(IDGasToken, append(append([]byte{}, gasKeyBalance...), account[:]...))
}

// BalanceOf returns account's current GAS balance.
func (g *GasToken) BalanceOf(snap storage.Snapshot, account payload.Hash20) int64 {
	raw, ok := snap.Get(g.key(account))
	if !ok {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(raw))
}

func (g *GasToken) setBalance(snap storage.Snapshot, account payload.Hash20, amount int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(amount))
	snap.Put(g.key(account), b[:])
}

// Mint credits account with amount, used by NeoToken's block reward and by
// genesis bootstrap's initial allocation.
func (g *GasToken) Mint(snap storage.Snapshot, account payload.Hash20, amount int64) error {
	if amount < 0 {
		return errs.New(errs.Validation, "negative-mint-amount", nil)
	}
	g.setBalance(snap, account, g.BalanceOf(snap, account)+amount)
	return nil
}

// Burn debits account by amount, failing if the balance would go negative.
// Mempool admission does not consult GAS balances, so a sender's balance is
// checked against its fees here.
func (g *GasToken) Burn(snap storage.Snapshot, account payload.Hash20, amount int64) error {
	if amount < 0 {
		return errs.New(errs.Validation, "negative-burn-amount", nil)
	}
	bal := g.BalanceOf(snap, account)
	if bal < amount {
		return errs.New(errs.Validation, "insufficient-gas-balance", nil)
	}
	g.setBalance(snap, account, bal-amount)
	return nil
}

// Transfer moves amount from one account to another.
func (g *GasToken) Transfer(snap storage.Snapshot, from, to payload.Hash20, amount int64) error {
	if err := g.Burn(snap, from, amount); err != nil {
		return err
	}
	return g.Mint(snap, to, amount)
}
