package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"math/big"
)

// Curve is the secp256r1 (P-256) curve Neo uses for account and validator
// keys and for the commit signatures exchanged during consensus.
var Curve = elliptic.P256()

// PrivateKey wraps a secp256r1 scalar.
type PrivateKey struct {
	ecdsa.PrivateKey
}

// PublicKey wraps a secp256r1 point.
type PublicKey struct {
	ecdsa.PublicKey
}

// Sign produces a deterministic 64-byte (r, s) signature over digest using
// the RFC 6979 nonce-derivation scheme, mirroring the approach of
// github.com/nspcc-dev/rfc6979: k is generated by an HMAC-SHA256 DRBG seeded
// from the private scalar and the message digest, so every honest validator
// produces byte-identical signatures for the same commit data. The low-s
// form is always returned.
func (priv *PrivateKey) Sign(digest []byte) ([]byte, error) {
	n := priv.Curve.Params().N
	if n.Sign() == 0 {
		return nil, errors.New("crypto: zero curve order")
	}

	k := rfc6979Nonce(n, priv.D, digest)
	r, s, err := signWithK(priv, digest, k, n)
	if err != nil {
		return nil, err
	}
	return packSignature(r, s), nil
}

// Verify checks a 64-byte (r, s) signature over digest against pub,
// rejecting any signature not already in low-s form (defends against
// malleability when signatures are later hashed for dedup).
func Verify(pub *PublicKey, digest, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	n := pub.Curve.Params().N
	halfN := new(big.Int).Rsh(n, 1)
	if s.Cmp(halfN) == 1 {
		return false
	}
	return ecdsa.Verify(&pub.PublicKey, digest, r, s)
}

func packSignature(r, s *big.Int) []byte {
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

// signWithK performs the raw ECDSA signing math for a fixed nonce k,
// normalising s to its low form.
func signWithK(priv *PrivateKey, digest []byte, k, n *big.Int) (*big.Int, *big.Int, error) {
	curve := priv.Curve
	x, _ := curve.ScalarBaseMult(k.Bytes())
	r := new(big.Int).Mod(x, n)
	if r.Sign() == 0 {
		return nil, nil, errors.New("crypto: zero r from nonce, regenerate")
	}

	e := hashToInt(digest, n)
	kInv := new(big.Int).ModInverse(k, n)
	s := new(big.Int).Mul(priv.D, r)
	s.Add(s, e)
	s.Mul(s, kInv)
	s.Mod(s, n)
	if s.Sign() == 0 {
		return nil, nil, errors.New("crypto: zero s from nonce, regenerate")
	}

	halfN := new(big.Int).Rsh(n, 1)
	if s.Cmp(halfN) == 1 {
		s.Sub(n, s)
	}
	return r, s, nil
}

func hashToInt(digest []byte, n *big.Int) *big.Int {
	orderBits := n.BitLen()
	orderBytes := (orderBits + 7) / 8
	if len(digest) > orderBytes {
		digest = digest[:orderBytes]
	}
	e := new(big.Int).SetBytes(digest)
	excess := len(digest)*8 - orderBits
	if excess > 0 {
		e.Rsh(e, uint(excess))
	}
	return e
}

// rfc6979Nonce derives a deterministic per-signature nonce k in [1, n-1] per
// RFC 6979 §3.2, using HMAC-SHA256 as the underlying PRF.
func rfc6979Nonce(n, priv *big.Int, digest []byte) *big.Int {
	qlen := n.BitLen()
	holen := sha256.Size

	privBytes := int2octets(priv, qlen)
	h1 := bits2octets(digest, n, qlen)

	v := bytesRepeat(0x01, holen)
	k := bytesRepeat(0x00, holen)

	k = hmacSum(k, append(append(append([]byte{}, v...), 0x00), append(privBytes, h1...)...))
	v = hmacSum(k, v)
	k = hmacSum(k, append(append(append([]byte{}, v...), 0x01), append(privBytes, h1...)...))
	v = hmacSum(k, v)

	for {
		var t []byte
		for len(t)*8 < qlen {
			v = hmacSum(k, v)
			t = append(t, v...)
		}
		candidate := bits2int(t, qlen)
		if candidate.Sign() > 0 && candidate.Cmp(n) < 0 {
			return candidate
		}
		k = hmacSum(k, append(v, 0x00))
		v = hmacSum(k, v)
	}
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg) //nolint:errcheck // hmac.Write never errors
	return mac.Sum(nil)
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func bits2int(b []byte, qlen int) *big.Int {
	x := new(big.Int).SetBytes(b)
	blen := len(b) * 8
	if blen > qlen {
		x.Rsh(x, uint(blen-qlen))
	}
	return x
}

func int2octets(v *big.Int, qlen int) []byte {
	rolen := (qlen + 7) / 8
	out := make([]byte, rolen)
	b := v.Bytes()
	if len(b) > rolen {
		b = b[len(b)-rolen:]
	}
	copy(out[rolen-len(b):], b)
	return out
}

func bits2octets(in []byte, n *big.Int, qlen int) []byte {
	z1 := bits2int(in, qlen)
	z2 := new(big.Int).Sub(z1, n)
	if z2.Sign() < 0 {
		return int2octets(z1, qlen)
	}
	return int2octets(z2, qlen)
}
