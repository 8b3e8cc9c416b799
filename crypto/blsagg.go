// Package crypto: BLS12-381 multisig aggregation, an optional witness path
// alongside the mandatory secp256r1 commit signatures (spec.md §4.B). Built
// on gnark-crypto, the pairing library the pack's Ethereum-derived examples
// already depend on for BLS and KZG work.
package crypto

import (
	"errors"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// BLSPrivateKey is a scalar in G1/G2's scalar field.
type BLSPrivateKey struct {
	scalar fr.Element
}

// BLSPublicKey is the scalar's image in G2.
type BLSPublicKey struct {
	point bls12381.G2Affine
}

// NewBLSPrivateKey wraps a scalar derived from seed (e.g. a hashed wallet
// secret). The seed is reduced modulo the scalar field order.
func NewBLSPrivateKey(seed []byte) *BLSPrivateKey {
	var s fr.Element
	s.SetBytes(seed)
	return &BLSPrivateKey{scalar: s}
}

// Public derives the G2 public key for priv.
func (priv *BLSPrivateKey) Public() *BLSPublicKey {
	_, _, _, g2Gen := bls12381.Generators()
	var pub bls12381.G2Affine
	scalarBig := priv.scalar.BigInt(new(big.Int))
	pub.ScalarMultiplication(&g2Gen, scalarBig)
	return &BLSPublicKey{point: pub}
}

// Sign hashes digest onto G1 and multiplies by the private scalar, the
// standard BLS signing construction.
func (priv *BLSPrivateKey) Sign(digest []byte) (*bls12381.G1Affine, error) {
	p, err := bls12381.HashToG1(digest, []byte("NEO-BLS-SIG"))
	if err != nil {
		return nil, err
	}
	var sig bls12381.G1Affine
	scalarBig := priv.scalar.BigInt(new(big.Int))
	sig.ScalarMultiplication(&p, scalarBig)
	return &sig, nil
}

// AggregateSignatures sums independently produced G1 signatures into a
// single aggregate, allowing an M-of-N commit witness to be carried as one
// constant-size signature instead of M separate secp256r1 signatures.
func AggregateSignatures(sigs []*bls12381.G1Affine) (*bls12381.G1Affine, error) {
	if len(sigs) == 0 {
		return nil, errors.New("crypto: no signatures to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(sigs[0])
	for _, s := range sigs[1:] {
		var sj bls12381.G1Jac
		sj.FromAffine(s)
		acc.AddAssign(&sj)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return &out, nil
}

// VerifyAggregate checks that aggSig is a valid BLS signature over digest
// under the sum of pubs, using the bilinear pairing equality
// e(sig, g2) == e(H(digest), sum(pub)).
func VerifyAggregate(pubs []*BLSPublicKey, digest []byte, aggSig *bls12381.G1Affine) (bool, error) {
	if len(pubs) == 0 {
		return false, errors.New("crypto: no public keys")
	}
	_, _, _, g2Gen := bls12381.Generators()

	var accPub bls12381.G2Jac
	accPub.FromAffine(&pubs[0].point)
	for _, p := range pubs[1:] {
		var pj bls12381.G2Jac
		pj.FromAffine(&p.point)
		accPub.AddAssign(&pj)
	}
	var pubSum bls12381.G2Affine
	pubSum.FromJacobian(&accPub)

	h, err := bls12381.HashToG1(digest, []byte("NEO-BLS-SIG"))
	if err != nil {
		return false, err
	}

	negG2Gen := g2Gen
	negG2Gen.Neg(&negG2Gen)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{*aggSig, h},
		[]bls12381.G2Affine{negG2Gen, pubSum},
	)
	return ok, err
}
