package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash160Hash256(t *testing.T) {
	data := []byte("neo")
	h256 := Hash256(data)
	h160 := Hash160(data)
	require.NotEqual(t, Hash32{}, h256)
	require.NotEqual(t, Hash20{}, h160)

	// Hash256 must equal SHA256(SHA256(x)).
	require.Equal(t, SHA256(mustSHA256(data)[:]), h256)
}

func mustSHA256(data []byte) [32]byte {
	return SHA256(data)
}

func TestMerkleRootSingleAndOdd(t *testing.T) {
	a := Hash256([]byte("a"))
	require.Equal(t, a, MerkleRoot([]Hash32{a}))

	b := Hash256([]byte("b"))
	c := Hash256([]byte("c"))
	// Odd count (3): c is duplicated at the first level.
	root := MerkleRoot([]Hash32{a, b, c})
	require.NotEqual(t, Hash32{}, root)
}

func TestMerkleRootEmpty(t *testing.T) {
	require.Equal(t, Hash32{}, MerkleRoot(nil))
}

func TestECDSASignVerifyDeterministic(t *testing.T) {
	key, err := ecdsa.GenerateKey(Curve, rand.Reader)
	require.NoError(t, err)
	priv := &PrivateKey{PrivateKey: *key}
	pub := &PublicKey{PublicKey: key.PublicKey}

	digest := Hash256([]byte("block signing data"))
	sig1, err := priv.Sign(digest[:])
	require.NoError(t, err)
	sig2, err := priv.Sign(digest[:])
	require.NoError(t, err)

	require.Equal(t, sig1, sig2, "RFC 6979 nonces must be deterministic")
	require.True(t, Verify(pub, digest[:], sig1))
}

func TestECDSAVerifyRejectsTamperedSignature(t *testing.T) {
	key, err := ecdsa.GenerateKey(Curve, rand.Reader)
	require.NoError(t, err)
	priv := &PrivateKey{PrivateKey: *key}
	pub := &PublicKey{PublicKey: key.PublicKey}

	digest := Hash256([]byte("data"))
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)

	sig[0] ^= 0xFF
	require.False(t, Verify(pub, digest[:], sig))
}
