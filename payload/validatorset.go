package payload

import "github.com/neo-core/neod/crypto"

// ValidatorSet is the ordered committee of spec.md §3, fixed size N per
// network. Order matters: it determines primary rotation and multisig
// script construction.
type ValidatorSet struct {
	Keys []*crypto.PublicKey
}

// N is the committee size.
func (v *ValidatorSet) N() int { return len(v.Keys) }

// M is the quorum threshold: N - floor((N-1)/3).
func (v *ValidatorSet) M() int {
	n := v.N()
	return n - (n-1)/3
}

// F is the maximum tolerated byzantine count: floor((N-1)/3).
func (v *ValidatorSet) F() int {
	n := v.N()
	return (n - 1) / 3
}

// PrimaryIndex returns the index of the primary for (height, view):
// (height - view) mod N.
func (v *ValidatorSet) PrimaryIndex(height uint32, view uint8) int {
	n := v.N()
	if n == 0 {
		return 0
	}
	idx := (int(height) - int(view)) % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// VerificationScript is the standard m-of-n multisig script authorising a
// committee change, where m is the quorum M(). This is what a block's
// next_consensus field must hash to.
func (v *ValidatorSet) VerificationScript() []byte {
	return BuildMultiSigVerificationScript(v.M(), v.Keys)
}

// ScriptHash is Hash160(VerificationScript()), the next_consensus value
// for a chain whose committee is v.
func (v *ValidatorSet) ScriptHash() Hash20 {
	return crypto.Hash160(v.VerificationScript())
}
