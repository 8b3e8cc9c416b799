// Package consensus implements spec.md §4.G: the dBFT consensus engine
// that drives view-based leader rotation and block production among the
// validator committee. Message shapes and the service event-loop are
// styled on the pack's Neo consensus reference (pkg/consensus/consensus.go),
// adapted to this core's own Context/Service split.
package consensus

import (
	"bytes"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
)

// MessageType is the dBFT envelope discriminant of spec.md §6.
type MessageType uint8

const (
	MsgChangeView      MessageType = 0x00
	MsgPrepareRequest  MessageType = 0x20
	MsgPrepareResponse MessageType = 0x21
	MsgCommit          MessageType = 0x30
	MsgRecoveryRequest MessageType = 0x40
	MsgRecoveryMessage MessageType = 0x41
)

// Envelope is the consensus message wrapper of spec.md §6: carried inside
// an extensible payload with category "dBFT". SigningData covers the
// network magic plus every envelope field but Signature, so a receiver
// verifies it against the validator set valid at BlockIndex.
type Envelope struct {
	BlockIndex     uint32
	ValidatorIndex uint8
	ViewNumber     uint8
	Type           MessageType
	Body           []byte
	Signature      []byte // 64-byte (r,s), over SigningData(magic)
}

func (e *Envelope) encodeUnsigned(bw *payload.Writer, magic uint32) {
	bw.WriteU32(magic)
	bw.WriteU32(e.BlockIndex)
	bw.WriteU8(e.ValidatorIndex)
	bw.WriteU8(e.ViewNumber)
	bw.WriteU8(uint8(e.Type))
	bw.WriteVarBytes(e.Body)
}

// SigningData is the byte range validator signatures over an Envelope are
// computed over.
func (e *Envelope) SigningData(magic uint32) []byte {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	e.encodeUnsigned(bw, magic)
	return buf.Bytes()
}

// Encode writes the full envelope including its signature, as carried in
// an extensible payload's data field.
func (e *Envelope) Encode(bw *payload.Writer) {
	bw.WriteU32(e.BlockIndex)
	bw.WriteU8(e.ValidatorIndex)
	bw.WriteU8(e.ViewNumber)
	bw.WriteU8(uint8(e.Type))
	bw.WriteVarBytes(e.Body)
	bw.WriteVarBytes(e.Signature)
}

// DecodeEnvelope parses an Envelope; the caller is responsible for
// signature verification against the validator set valid at BlockIndex.
func DecodeEnvelope(br *payload.Reader) (*Envelope, error) {
	e := &Envelope{}
	e.BlockIndex = br.ReadU32()
	e.ValidatorIndex = br.ReadU8()
	e.ViewNumber = br.ReadU8()
	e.Type = MessageType(br.ReadU8())
	e.Body = br.ReadVarBytesCap(1 << 20)
	e.Signature = br.ReadVarBytesCap(64)
	if err := br.Err(); err != nil {
		return nil, err
	}
	switch e.Type {
	case MsgChangeView, MsgPrepareRequest, MsgPrepareResponse, MsgCommit, MsgRecoveryRequest, MsgRecoveryMessage:
	default:
		return nil, errs.New(errs.Deserialize, "unknown-consensus-message-type", nil)
	}
	return e, nil
}

// ChangeViewBody is MsgChangeView's payload.
type ChangeViewBody struct {
	NewViewNumber uint8
	Timestamp     uint64
	Reason        uint8
}

func (b *ChangeViewBody) Encode(bw *payload.Writer) {
	bw.WriteU8(b.NewViewNumber)
	bw.WriteU64(b.Timestamp)
	bw.WriteU8(b.Reason)
}

func DecodeChangeViewBody(br *payload.Reader) (*ChangeViewBody, error) {
	b := &ChangeViewBody{}
	b.NewViewNumber = br.ReadU8()
	b.Timestamp = br.ReadU64()
	b.Reason = br.ReadU8()
	return b, br.Err()
}

// PrepareRequestBody is MsgPrepareRequest's payload: the primary's proposal.
type PrepareRequestBody struct {
	Timestamp       uint64
	Nonce           uint64
	NextConsensus   payload.Hash20
	TransactionHashes []payload.Hash32
}

func (b *PrepareRequestBody) Encode(bw *payload.Writer) {
	bw.WriteU64(b.Timestamp)
	bw.WriteU64(b.Nonce)
	bw.WriteBytes(b.NextConsensus[:])
	bw.WriteVarInt(uint64(len(b.TransactionHashes)))
	for _, h := range b.TransactionHashes {
		bw.WriteBytes(h[:])
	}
}

// MaxTransactionHashes bounds a PrepareRequest's transaction list at the
// codec's hard per-block ceiling; the executor's policy cap
// (config.PolicyCaps.MaxTransactionsPerBlock) is separate and lower by default.
const MaxTransactionHashes = payload.MaxTransactionsPerBlock

func DecodePrepareRequestBody(br *payload.Reader) (*PrepareRequestBody, error) {
	b := &PrepareRequestBody{}
	b.Timestamp = br.ReadU64()
	b.Nonce = br.ReadU64()
	copy(b.NextConsensus[:], br.ReadBytes(20))
	n := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if n > MaxTransactionHashes {
		return nil, errs.New(errs.Deserialize, "too-many-transaction-hashes", nil)
	}
	b.TransactionHashes = make([]payload.Hash32, n)
	for i := range b.TransactionHashes {
		copy(b.TransactionHashes[i][:], br.ReadBytes(32))
	}
	return b, br.Err()
}

// Hash identifies a PrepareRequest for PrepareResponse's back-reference.
func (b *PrepareRequestBody) Hash() payload.Hash32 {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	b.Encode(bw)
	return crypto.Hash256(buf.Bytes())
}

// PrepareResponseBody is MsgPrepareResponse's payload: a back-reference to
// the PrepareRequest being endorsed.
type PrepareResponseBody struct {
	PrepareRequestHash payload.Hash32
}

func (b *PrepareResponseBody) Encode(bw *payload.Writer) { bw.WriteBytes(b.PrepareRequestHash[:]) }

func DecodePrepareResponseBody(br *payload.Reader) (*PrepareResponseBody, error) {
	b := &PrepareResponseBody{}
	copy(b.PrepareRequestHash[:], br.ReadBytes(32))
	return b, br.Err()
}

// CommitBody is MsgCommit's payload: the validator's signature over the
// block's signing data.
type CommitBody struct {
	Signature []byte // 64 bytes
}

func (b *CommitBody) Encode(bw *payload.Writer) { bw.WriteVarBytes(b.Signature) }

func DecodeCommitBody(br *payload.Reader) (*CommitBody, error) {
	b := &CommitBody{}
	b.Signature = br.ReadVarBytesCap(64)
	if br.Err() == nil && len(b.Signature) != 64 {
		return nil, errs.New(errs.Deserialize, "bad-commit-signature-length", nil)
	}
	return b, br.Err()
}

// RecoveryRequestBody is MsgRecoveryRequest's payload.
type RecoveryRequestBody struct {
	Timestamp uint64
}

func (b *RecoveryRequestBody) Encode(bw *payload.Writer) { bw.WriteU64(b.Timestamp) }

func DecodeRecoveryRequestBody(br *payload.Reader) (*RecoveryRequestBody, error) {
	b := &RecoveryRequestBody{}
	b.Timestamp = br.ReadU64()
	return b, br.Err()
}

// RecoveryMessageBody bundles every message a lagging validator needs to
// rebuild its context for the current height/view (spec.md §4.G Recovery).
type RecoveryMessageBody struct {
	ChangeViews      []ChangeViewEntry
	PrepareRequest   *PrepareRequestEntry
	PrepareResponses []PrepareResponseEntry
	Commits          []CommitEntry
}

type ChangeViewEntry struct {
	ValidatorIndex uint8
	Body           ChangeViewBody
}

type PrepareRequestEntry struct {
	ValidatorIndex uint8
	Body           PrepareRequestBody
}

type PrepareResponseEntry struct {
	ValidatorIndex uint8
	Body           PrepareResponseBody
}

type CommitEntry struct {
	ValidatorIndex uint8
	Body           CommitBody
}

func (b *RecoveryMessageBody) Encode(bw *payload.Writer) {
	bw.WriteVarInt(uint64(len(b.ChangeViews)))
	for _, cv := range b.ChangeViews {
		bw.WriteU8(cv.ValidatorIndex)
		cv.Body.Encode(bw)
	}
	if b.PrepareRequest != nil {
		bw.WriteU8(1)
		bw.WriteU8(b.PrepareRequest.ValidatorIndex)
		b.PrepareRequest.Body.Encode(bw)
	} else {
		bw.WriteU8(0)
	}
	bw.WriteVarInt(uint64(len(b.PrepareResponses)))
	for _, pr := range b.PrepareResponses {
		bw.WriteU8(pr.ValidatorIndex)
		pr.Body.Encode(bw)
	}
	bw.WriteVarInt(uint64(len(b.Commits)))
	for _, c := range b.Commits {
		bw.WriteU8(c.ValidatorIndex)
		c.Body.Encode(bw)
	}
}

const maxRecoveryEntries = 1024 // generous bound on a committee-sized collection

func DecodeRecoveryMessageBody(br *payload.Reader) (*RecoveryMessageBody, error) {
	b := &RecoveryMessageBody{}

	nCV := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nCV > maxRecoveryEntries {
		return nil, errs.New(errs.Deserialize, "too-many-recovery-change-views", nil)
	}
	b.ChangeViews = make([]ChangeViewEntry, nCV)
	for i := range b.ChangeViews {
		b.ChangeViews[i].ValidatorIndex = br.ReadU8()
		cv, err := DecodeChangeViewBody(br)
		if err != nil {
			return nil, err
		}
		b.ChangeViews[i].Body = *cv
	}

	hasPR := br.ReadU8()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if hasPR == 1 {
		idx := br.ReadU8()
		pr, err := DecodePrepareRequestBody(br)
		if err != nil {
			return nil, err
		}
		b.PrepareRequest = &PrepareRequestEntry{ValidatorIndex: idx, Body: *pr}
	}

	nPResp := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nPResp > maxRecoveryEntries {
		return nil, errs.New(errs.Deserialize, "too-many-recovery-prepare-responses", nil)
	}
	b.PrepareResponses = make([]PrepareResponseEntry, nPResp)
	for i := range b.PrepareResponses {
		b.PrepareResponses[i].ValidatorIndex = br.ReadU8()
		pr, err := DecodePrepareResponseBody(br)
		if err != nil {
			return nil, err
		}
		b.PrepareResponses[i].Body = *pr
	}

	nCommits := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if nCommits > maxRecoveryEntries {
		return nil, errs.New(errs.Deserialize, "too-many-recovery-commits", nil)
	}
	b.Commits = make([]CommitEntry, nCommits)
	for i := range b.Commits {
		b.Commits[i].ValidatorIndex = br.ReadU8()
		c, err := DecodeCommitBody(br)
		if err != nil {
			return nil, err
		}
		b.Commits[i].Body = *c
	}

	return b, br.Err()
}
