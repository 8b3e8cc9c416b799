package payload

import "github.com/neo-core/neod/crypto"

// MaxScriptLength caps invocation/verification script size to defend
// against oversize-declared-length attacks during deserialisation.
const MaxScriptLength = 65536

// Witness authorises a Signer in a Transaction, or a committee change in a
// Block. Verification is empty when the account resolves to a deployed
// contract (spec.md §3 Witness).
type Witness struct {
	InvocationScript   []byte
	VerificationScript []byte
}

// ScriptHash returns Hash160(VerificationScript); callers must compare this
// against the owning Signer.Account only when VerificationScript is
// non-empty (spec invariant).
func (w *Witness) ScriptHash() Hash20 {
	return crypto.Hash160(w.VerificationScript)
}

func (w *Witness) encode(bw *Writer) {
	bw.WriteVarBytes(w.InvocationScript)
	bw.WriteVarBytes(w.VerificationScript)
}

func decodeWitness(br *Reader) Witness {
	inv := br.ReadVarBytesCap(MaxScriptLength)
	ver := br.ReadVarBytesCap(MaxScriptLength)
	return Witness{InvocationScript: inv, VerificationScript: ver}
}

// Encode writes w on its own, for callers outside this package that carry a
// standalone Witness (e.g. the P2P extensible-payload envelope).
func (w *Witness) Encode(bw *Writer) { w.encode(bw) }

// DecodeWitness reads a standalone Witness, mirroring Encode.
func DecodeWitness(br *Reader) Witness { return decodeWitness(br) }
