package payload

import (
	"crypto/elliptic"

	"github.com/neo-core/neod/crypto"
)

// Standard-account script markers this core recognises directly, without
// invoking the out-of-scope VM opcode interpreter (spec.md §1 Non-goals):
// a fixed-layout single-sig script (PushBytes33 pubkey, SysCallCheckSig)
// and a fixed-layout m-of-n multisig verification script (threshold byte,
// then PushBytes33 pubkey repeated n times). These are the two forms
// Neo's standard contract templates always produce.
const (
	PushBytes64    = 0x0c // marks a following 64-byte ECDSA signature
	PushBytes33    = 0x0d // marks a following 33-byte compressed public key
	SysCallCheckSig = 0x41 // trailing CHECKSIG marker completing the layout
)

// BuildSingleSigVerificationScript builds the 35-byte standard single-sig
// verification script for pub.
func BuildSingleSigVerificationScript(pub *crypto.PublicKey) []byte {
	compressed := elliptic.MarshalCompressed(crypto.Curve, pub.X, pub.Y)
	out := make([]byte, 0, 35)
	out = append(out, PushBytes33)
	out = append(out, compressed...)
	out = append(out, SysCallCheckSig)
	return out
}

// BuildSingleSigInvocationScript wraps sig in the single-sig invocation
// layout.
func BuildSingleSigInvocationScript(sig []byte) []byte {
	out := make([]byte, 0, 65)
	out = append(out, PushBytes64)
	out = append(out, sig...)
	return out
}

// BuildMultiSigVerificationScript builds the m-of-n standard multisig
// verification script: threshold byte followed by each compressed public
// key in order.
func BuildMultiSigVerificationScript(m int, pubs []*crypto.PublicKey) []byte {
	out := make([]byte, 0, 1+len(pubs)*34)
	out = append(out, byte(m))
	for _, pub := range pubs {
		compressed := elliptic.MarshalCompressed(crypto.Curve, pub.X, pub.Y)
		out = append(out, PushBytes33)
		out = append(out, compressed...)
	}
	return out
}

// BuildMultiSigInvocationScript concatenates signatures in the standard
// multisig invocation layout, in the same order their signer public keys
// appear in the verification script.
func BuildMultiSigInvocationScript(sigs [][]byte) []byte {
	out := make([]byte, 0, len(sigs)*65)
	for _, sig := range sigs {
		out = append(out, PushBytes64)
		out = append(out, sig...)
	}
	return out
}
