// Package crypto implements the primitives spec.md §4.B requires: SHA-256,
// RIPEMD-160, the Hash160/Hash256 compositions, Merkle roots, secp256r1
// ECDSA with RFC 6979 deterministic nonces, and BLS12-381 pairing
// aggregation for the optional multisig witness path.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for Neo's script-hash scheme
)

// Hash32 is a double-SHA-256 digest, used for block and transaction
// identity.
type Hash32 [32]byte

// Hash20 is a RIPEMD-160(SHA-256(x)) digest, used for script hashes
// (account identity).
type Hash20 [20]byte

// SHA256 returns the single SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RIPEMD160 returns the RIPEMD-160 digest of data.
func RIPEMD160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data) //nolint:errcheck // hash.Hash never errors on Write
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash256 is SHA256(SHA256(x)), Neo's transaction/block identity hash.
func Hash256(data []byte) Hash32 {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Hash160 is RIPEMD160(SHA256(x)), Neo's script-hash scheme.
func Hash160(data []byte) Hash20 {
	first := sha256.Sum256(data)
	return RIPEMD160(first[:])
}
