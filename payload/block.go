package payload

import (
	"bytes"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
)

// MaxTransactionsPerBlock is a hard ceiling independent of policy.
const MaxTransactionsPerBlock = 65535

// Header is a Block's fixed-size preamble, serialized ahead of body for the
// header-only sync path (spec.md §4.E).
type Header struct {
	Version        uint32
	PrevHash       Hash32
	MerkleRoot     Hash32
	Timestamp      uint64
	Nonce          uint64
	Index          uint32
	PrimaryIndex   uint8
	NextConsensus  Hash20
	Witness        Witness
}

func (h *Header) unsignedEncode(bw *Writer) {
	bw.WriteU32(h.Version)
	writeHash32(bw, h.PrevHash)
	writeHash32(bw, h.MerkleRoot)
	bw.WriteU64(h.Timestamp)
	bw.WriteU64(h.Nonce)
	bw.WriteU32(h.Index)
	bw.WriteU8(h.PrimaryIndex)
	writeHash20(bw, h.NextConsensus)
}

// Encode writes the full header including its witness.
func (h *Header) Encode(bw *Writer) {
	h.unsignedEncode(bw)
	bw.WriteU8(1) // witness count is always 1 for a header
	h.Witness.encode(bw)
}

// SigningData is the byte range a block's witness (and consensus commit
// signatures) are computed over: the unsigned header fields.
func (h *Header) SigningData() []byte {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	h.unsignedEncode(bw)
	return buf.Bytes()
}

// Hash is the block identity: SHA256(SHA256(unsigned header fields)).
func (h *Header) Hash() Hash32 {
	return crypto.Hash256(h.SigningData())
}

// DecodeHeader parses a Header and checks the witness-count invariant.
func DecodeHeader(br *Reader) (*Header, error) {
	h := &Header{}
	h.Version = br.ReadU32()
	h.PrevHash = readHash32(br)
	h.MerkleRoot = readHash32(br)
	h.Timestamp = br.ReadU64()
	h.Nonce = br.ReadU64()
	h.Index = br.ReadU32()
	h.PrimaryIndex = br.ReadU8()
	h.NextConsensus = readHash20(br)

	witCount := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if witCount != 1 {
		return nil, errs.New(errs.Deserialize, "header-witness-arity", nil)
	}
	h.Witness = decodeWitness(br)
	if err := br.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

// Block is spec.md §3's Block entity: a Header plus its ordered
// transaction list.
type Block struct {
	Header
	Transactions []*Transaction
}

// ComputeMerkleRoot recomputes the root over Transactions in order, for
// comparison against Header.MerkleRoot during verification.
func (b *Block) ComputeMerkleRoot() Hash32 {
	hashes := make([]crypto.Hash32, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return crypto.MerkleRoot(hashes)
}

// Encode writes the full block: header, then transactions.
func (b *Block) Encode(bw *Writer) {
	b.unsignedEncode(bw)
	bw.WriteU8(1)
	b.Witness.encode(bw)
	bw.WriteVarInt(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.Encode(bw)
	}
}

// DecodeBlock parses a full block body.
func DecodeBlock(br *Reader) (*Block, error) {
	h, err := DecodeHeader(br)
	if err != nil {
		return nil, err
	}
	b := &Block{Header: *h}

	nTx := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nTx > MaxTransactionsPerBlock {
		return nil, errs.New(errs.Deserialize, "too-many-transactions", nil)
	}
	b.Transactions = make([]*Transaction, nTx)
	for i := range b.Transactions {
		tx, err := DecodeTransaction(br)
		if err != nil {
			return nil, err
		}
		b.Transactions[i] = tx
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return b, nil
}
