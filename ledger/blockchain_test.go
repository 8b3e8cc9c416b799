package ledger

import (
	"crypto/ecdsa"
	"crypto/rand"
	"testing"

	"github.com/neo-core/neod/config"
	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage/memstore"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	persisted []uint32
}

func (o *testObserver) OnBlockPersisted(height uint32, _ payload.Hash32) {
	o.persisted = append(o.persisted, height)
}

func singleValidatorChain(t *testing.T) (*Blockchain, *crypto.PrivateKey, *testObserver) {
	t.Helper()
	key, err := ecdsa.GenerateKey(crypto.Curve, rand.Reader)
	require.NoError(t, err)
	priv := &crypto.PrivateKey{PrivateKey: *key}
	pub := &crypto.PublicKey{PublicKey: key.PublicKey}

	validators := &payload.ValidatorSet{Keys: []*crypto.PublicKey{pub}}
	verScript := payload.BuildSingleSigVerificationScript(pub)
	accountHash := crypto.Hash160(verScript)

	obs := &testObserver{}
	bc := New(memstore.New(), config.DefaultPolicyCaps(), validators, NoopEngine{}, obs)

	genesis := &payload.Block{
		Header: payload.Header{
			Version:       0,
			Timestamp:     1,
			Index:         0,
			PrimaryIndex:  0,
			NextConsensus: accountHash,
			Witness:       payload.Witness{VerificationScript: verScript},
		},
	}
	require.NoError(t, bc.Bootstrap(genesis))
	return bc, priv, obs
}

func signHeader(t *testing.T, priv *crypto.PrivateKey, h *payload.Header, verScript []byte) {
	t.Helper()
	digest := crypto.Hash256(h.SigningData())
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)
	h.Witness = payload.Witness{
		InvocationScript:   payload.BuildSingleSigInvocationScript(sig),
		VerificationScript: verScript,
	}
}

func TestBootstrapAndAddBlock(t *testing.T) {
	bc, priv, obs := singleValidatorChain(t)
	require.Equal(t, uint32(0), bc.Height())

	verScript := bc.tip.Witness.VerificationScript
	next := &payload.Block{
		Header: payload.Header{
			Version:       0,
			PrevHash:      bc.CurrentBlockHash(),
			Timestamp:     2,
			Index:         1,
			PrimaryIndex:  0,
			NextConsensus: bc.tip.NextConsensus,
		},
	}
	next.MerkleRoot = next.ComputeMerkleRoot()
	signHeader(t, priv, &next.Header, verScript)

	require.NoError(t, bc.AddBlock(next, false))
	require.Equal(t, uint32(1), bc.Height())
	require.Equal(t, []uint32{0, 1}, obs.persisted)
}

func TestAddBlockRejectsWrongParent(t *testing.T) {
	bc, priv, _ := singleValidatorChain(t)
	verScript := bc.tip.Witness.VerificationScript

	bad := &payload.Block{
		Header: payload.Header{
			PrevHash:      payload.Hash32{0xAA},
			Timestamp:     2,
			Index:         1,
			NextConsensus: bc.tip.NextConsensus,
		},
	}
	bad.MerkleRoot = bad.ComputeMerkleRoot()
	signHeader(t, priv, &bad.Header, verScript)

	err := bc.AddBlock(bad, false)
	require.Error(t, err)
	require.Equal(t, uint32(0), bc.Height())
}

func TestAddBlockCachesOrphanAndResolvesOnParentArrival(t *testing.T) {
	bc, priv, _ := singleValidatorChain(t)
	verScript := bc.tip.Witness.VerificationScript
	genesisHash := bc.CurrentBlockHash()

	block1 := &payload.Block{
		Header: payload.Header{
			PrevHash:      genesisHash,
			Timestamp:     2,
			Index:         1,
			NextConsensus: bc.tip.NextConsensus,
		},
	}
	block1.MerkleRoot = block1.ComputeMerkleRoot()
	signHeader(t, priv, &block1.Header, verScript)

	block2 := &payload.Block{
		Header: payload.Header{
			PrevHash:      block1.Hash(),
			Timestamp:     3,
			Index:         2,
			NextConsensus: bc.tip.NextConsensus,
		},
	}
	block2.MerkleRoot = block2.ComputeMerkleRoot()
	signHeader(t, priv, &block2.Header, verScript)

	// block2 arrives before block1: cached as an orphan, chain stays at genesis.
	err := bc.AddBlock(block2, false)
	require.Error(t, err)
	require.Equal(t, uint32(0), bc.Height())

	// block1 lands: block2 should resolve automatically.
	require.NoError(t, bc.AddBlock(block1, false))
	require.Equal(t, uint32(2), bc.Height())
}

func TestAddBlockRejectsBadWitness(t *testing.T) {
	bc, priv, _ := singleValidatorChain(t)
	verScript := bc.tip.Witness.VerificationScript

	other, err := ecdsa.GenerateKey(crypto.Curve, rand.Reader)
	require.NoError(t, err)
	wrongPriv := &crypto.PrivateKey{PrivateKey: *other}

	next := &payload.Block{
		Header: payload.Header{
			PrevHash:      bc.CurrentBlockHash(),
			Timestamp:     2,
			Index:         1,
			NextConsensus: bc.tip.NextConsensus,
		},
	}
	next.MerkleRoot = next.ComputeMerkleRoot()
	signHeader(t, wrongPriv, &next.Header, verScript)

	err = bc.AddBlock(next, false)
	require.Error(t, err)
}
