package mempool

import (
	"testing"

	"github.com/neo-core/neod/payload"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	height  uint32
	failFor map[payload.Hash32]bool
}

func (f *fakeVerifier) VerifyWitnesses(tx *payload.Transaction, _ uint32) error {
	if f.failFor != nil && f.failFor[tx.Hash()] {
		return &Rejected{Reason: RejectInvalid}
	}
	return nil
}

func (f *fakeVerifier) Height() uint32 { return f.height }

func makeTx(sender byte, nonce uint32, networkFee int64, script []byte) *payload.Transaction {
	return &payload.Transaction{
		Nonce:           nonce,
		NetworkFee:      networkFee,
		ValidUntilBlock: 100,
		Signers:         []payload.Signer{{Account: payload.Hash20{sender}}},
		Script:          script,
		Witnesses:       []payload.Witness{{}},
	}
}

func newTestPool(height uint32) *Pool {
	cfg := Config{Capacity: 3, MaxPerSender: 20, MinFeePerByte: 1, MaxValidUntilBlockIncrement: 1000}
	return New(cfg, &fakeVerifier{height: height}, nil)
}

func TestTryAddAndDoubleSubmit(t *testing.T) {
	p := newTestPool(1)
	tx := makeTx(1, 1, 10000, []byte{1, 2, 3})

	require.NoError(t, p.TryAdd(tx))
	err := p.TryAdd(tx)
	require.Error(t, err)
	var rej *Rejected
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectConflict, rej.Reason)
	require.Equal(t, 1, p.Count())
}

func TestGetSortedOrdersByFeePerByte(t *testing.T) {
	p := newTestPool(1)
	low := makeTx(1, 1, 1000, []byte{1})
	high := makeTx(2, 1, 100000, []byte{1})
	require.NoError(t, p.TryAdd(low))
	require.NoError(t, p.TryAdd(high))

	sorted := p.GetSorted(10, 1<<20, 1<<60)
	require.Len(t, sorted, 2)
	require.Equal(t, high.Hash(), sorted[0].Hash())
	require.Equal(t, low.Hash(), sorted[1].Hash())
}

func TestEvictionRequiresStrictlyLowerFee(t *testing.T) {
	p := newTestPool(1) // capacity 3
	for i := byte(0); i < 3; i++ {
		require.NoError(t, p.TryAdd(makeTx(i, 1, 10000, []byte{1})))
	}

	// Same fee as existing entries: must not evict, pool full.
	same := makeTx(10, 1, 10000, []byte{1})
	err := p.TryAdd(same)
	require.Error(t, err)
	var rej *Rejected
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectPoolFull, rej.Reason)

	// Strictly higher fee: evicts the lowest.
	higher := makeTx(11, 1, 1000000, []byte{1})
	require.NoError(t, p.TryAdd(higher))
	require.Equal(t, 3, p.Count())
	require.True(t, p.Contains(higher.Hash()))
}

func TestPerSenderCap(t *testing.T) {
	cfg := Config{Capacity: 1000, MaxPerSender: 2, MinFeePerByte: 1, MaxValidUntilBlockIncrement: 1000}
	p := New(cfg, &fakeVerifier{height: 1}, nil)

	require.NoError(t, p.TryAdd(makeTx(1, 1, 10000, []byte{1})))
	require.NoError(t, p.TryAdd(makeTx(1, 2, 10000, []byte{2})))
	err := p.TryAdd(makeTx(1, 3, 10000, []byte{3}))
	require.Error(t, err)

	require.Len(t, p.IterBySender(payload.Hash20{1}), 2)
}

func TestRemoveRestoresPriorOrder(t *testing.T) {
	p := newTestPool(1)
	tx := makeTx(1, 1, 10000, []byte{1})
	require.NoError(t, p.TryAdd(tx))
	require.True(t, p.Contains(tx.Hash()))

	p.Remove([]payload.Hash32{tx.Hash()})
	require.False(t, p.Contains(tx.Hash()))
	require.Equal(t, 0, p.Count())
}

func TestConflictsAttribute(t *testing.T) {
	p := newTestPool(1)
	victim := makeTx(1, 1, 10000, []byte{1})
	require.NoError(t, p.TryAdd(victim))

	attacker := makeTx(2, 1, 10000, []byte{2})
	attacker.Attributes = []payload.Attribute{{Type: payload.AttrConflicts, ConflictHash: victim.Hash()}}

	err := p.TryAdd(attacker)
	require.Error(t, err)
}
