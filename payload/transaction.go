package payload

import (
	"bytes"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
)

const (
	// MaxTransactionSize is the policy-independent hard ceiling on
	// encoded transaction size (spec.md §3 Transaction invariant).
	MaxTransactionSize = 102400
	// MaxSigners bounds signer list length; first signer is always the
	// fee payer.
	MaxSigners = 16
	// MaxAttributes bounds the attribute list length.
	MaxAttributes = 16
	// MaxScriptSize bounds Transaction.Script.
	MaxScriptSize = 65536
)

// Transaction is spec.md §3's Transaction entity.
type Transaction struct {
	Version         uint8
	Nonce           uint32
	SystemFee       int64
	NetworkFee      int64
	ValidUntilBlock uint32
	Signers         []Signer
	Attributes      []Attribute
	Script          []byte
	Witnesses       []Witness
}

// Sender is the fee payer: the first signer's account, per spec invariant.
func (tx *Transaction) Sender() Hash20 {
	return tx.Signers[0].Account
}

// unsignedEncode writes every field except Witnesses; this is the byte
// range hashed for transaction identity and for witness verification data.
func (tx *Transaction) unsignedEncode(bw *Writer) {
	bw.WriteU8(tx.Version)
	bw.WriteU32(tx.Nonce)
	bw.WriteI64(tx.SystemFee)
	bw.WriteI64(tx.NetworkFee)
	bw.WriteU32(tx.ValidUntilBlock)

	bw.WriteVarInt(uint64(len(tx.Signers)))
	for i := range tx.Signers {
		tx.Signers[i].encode(bw)
	}

	bw.WriteVarInt(uint64(len(tx.Attributes)))
	for i := range tx.Attributes {
		tx.Attributes[i].encode(bw)
	}

	bw.WriteVarBytes(tx.Script)
}

// Encode writes the full, witnessed transaction.
func (tx *Transaction) Encode(bw *Writer) {
	tx.unsignedEncode(bw)
	bw.WriteVarInt(uint64(len(tx.Witnesses)))
	for i := range tx.Witnesses {
		tx.Witnesses[i].encode(bw)
	}
}

// UnsignedBytes returns the canonical encoding of every field but
// Witnesses, used both for Hash() and as the signing data witnesses are
// verified against.
func (tx *Transaction) UnsignedBytes() []byte {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	tx.unsignedEncode(bw)
	return buf.Bytes()
}

// Hash is spec.md §3's transaction identity: SHA256(SHA256(unsigned-bytes)).
func (tx *Transaction) Hash() Hash32 {
	return crypto.Hash256(tx.UnsignedBytes())
}

// DecodeTransaction parses a full transaction and validates the structural
// invariants of spec.md §3 that don't require chain context (fees, script
// non-empty, signer/witness arity, size cap).
func DecodeTransaction(br *Reader) (*Transaction, error) {
	tx := &Transaction{}
	tx.Version = br.ReadU8()
	tx.Nonce = br.ReadU32()
	tx.SystemFee = br.ReadI64()
	tx.NetworkFee = br.ReadI64()
	tx.ValidUntilBlock = br.ReadU32()

	nSigners := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nSigners == 0 {
		return nil, errs.New(errs.Deserialize, "empty-signer-list", nil)
	}
	if nSigners > MaxSigners {
		return nil, errs.New(errs.Deserialize, "signer-list-too-large", nil)
	}
	tx.Signers = make([]Signer, nSigners)
	for i := range tx.Signers {
		tx.Signers[i] = decodeSigner(br)
	}

	nAttrs := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nAttrs > MaxAttributes {
		return nil, errs.New(errs.Deserialize, "attribute-list-too-large", nil)
	}
	tx.Attributes = make([]Attribute, nAttrs)
	for i := range tx.Attributes {
		tx.Attributes[i] = decodeAttribute(br)
	}

	tx.Script = br.ReadVarBytesCap(MaxScriptSize)

	nWit := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nWit != nSigners {
		return nil, errs.New(errs.Deserialize, "witness-signer-arity-mismatch", nil)
	}
	tx.Witnesses = make([]Witness, nWit)
	for i := range tx.Witnesses {
		tx.Witnesses[i] = decodeWitness(br)
	}

	if err := br.Err(); err != nil {
		return nil, err
	}

	if err := tx.validateStructure(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) validateStructure() error {
	if tx.SystemFee < 0 || tx.NetworkFee < 0 {
		return errs.New(errs.Validation, "negative-fee", nil)
	}
	if len(tx.Script) == 0 {
		return errs.New(errs.Validation, "empty-script", nil)
	}
	if len(tx.UnsignedBytes())+witnessesSize(tx.Witnesses) > MaxTransactionSize {
		return errs.New(errs.Validation, "transaction-too-large", nil)
	}
	for i := range tx.Signers {
		if err := tx.Signers[i].Validate(); err != nil {
			return err
		}
	}
	seen := make(map[Hash20]bool, len(tx.Signers))
	for _, s := range tx.Signers {
		if seen[s.Account] {
			return errs.New(errs.Validation, "duplicate-signer", nil)
		}
		seen[s.Account] = true
	}
	return nil
}

func witnessesSize(ws []Witness) int {
	n := 0
	for _, w := range ws {
		n += len(w.InvocationScript) + len(w.VerificationScript) + 2
	}
	return n
}

// CheckWitnessArity verifies witness[i].ScriptHash() == signers[i].Account
// for every witness whose verification script is non-empty, per spec.md §3
// Witness invariant. Accounts resolving to a deployed contract (empty
// verification) are the executor's responsibility (it must invoke the
// contract's verify method against the VM).
func (tx *Transaction) CheckWitnessArity() error {
	for i := range tx.Witnesses {
		if len(tx.Witnesses[i].VerificationScript) == 0 {
			continue
		}
		if tx.Witnesses[i].ScriptHash() != tx.Signers[i].Account {
			return errs.New(errs.Validation, "witness-account-mismatch", nil)
		}
	}
	return nil
}
