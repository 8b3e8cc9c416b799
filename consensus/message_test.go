package consensus

import (
	"bytes"
	"testing"

	"github.com/neo-core/neod/payload"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		BlockIndex:     42,
		ValidatorIndex: 3,
		ViewNumber:     1,
		Type:           MsgPrepareResponse,
		Body:           []byte{1, 2, 3},
		Signature:      bytes.Repeat([]byte{0xAB}, 64),
	}

	var buf bytes.Buffer
	env.Encode(payload.NewWriter(&buf))

	got, err := DecodeEnvelope(payload.NewReader(&buf, 0))
	require.NoError(t, err)
	require.Equal(t, env.BlockIndex, got.BlockIndex)
	require.Equal(t, env.ValidatorIndex, got.ValidatorIndex)
	require.Equal(t, env.ViewNumber, got.ViewNumber)
	require.Equal(t, env.Type, got.Type)
	require.Equal(t, env.Body, got.Body)
	require.Equal(t, env.Signature, got.Signature)
}

func TestDecodeEnvelopeRejectsUnknownType(t *testing.T) {
	env := &Envelope{Type: MessageType(0x99), Body: nil, Signature: nil}
	var buf bytes.Buffer
	env.Encode(payload.NewWriter(&buf))

	_, err := DecodeEnvelope(payload.NewReader(&buf, 0))
	require.Error(t, err)
}

func TestPrepareRequestBodyRoundTripAndHash(t *testing.T) {
	body := &PrepareRequestBody{
		Timestamp:         100,
		Nonce:             200,
		NextConsensus:     payload.Hash20{1, 2, 3},
		TransactionHashes: []payload.Hash32{{0xAA}, {0xBB}},
	}

	var buf bytes.Buffer
	body.Encode(payload.NewWriter(&buf))
	got, err := DecodePrepareRequestBody(payload.NewReader(&buf, 0))
	require.NoError(t, err)
	require.Equal(t, body.Timestamp, got.Timestamp)
	require.Equal(t, body.TransactionHashes, got.TransactionHashes)
	require.Equal(t, body.Hash(), got.Hash())
}

func TestPrepareRequestBodyRejectsTooManyHashes(t *testing.T) {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	bw.WriteU64(1)
	bw.WriteU64(2)
	bw.WriteBytes(make([]byte, 20))
	bw.WriteVarInt(uint64(MaxTransactionHashes) + 1)

	_, err := DecodePrepareRequestBody(payload.NewReader(&buf, 0))
	require.Error(t, err)
}

func TestCommitBodyRejectsWrongSignatureLength(t *testing.T) {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	bw.WriteVarBytes([]byte{1, 2, 3})

	_, err := DecodeCommitBody(payload.NewReader(&buf, 0))
	require.Error(t, err)
}

func TestRecoveryMessageBodyRoundTrip(t *testing.T) {
	msg := &RecoveryMessageBody{
		ChangeViews: []ChangeViewEntry{
			{ValidatorIndex: 0, Body: ChangeViewBody{NewViewNumber: 1, Timestamp: 5}},
		},
		PrepareRequest: &PrepareRequestEntry{
			ValidatorIndex: 1,
			Body: PrepareRequestBody{
				Timestamp:     7,
				NextConsensus: payload.Hash20{9},
			},
		},
		PrepareResponses: []PrepareResponseEntry{
			{ValidatorIndex: 2, Body: PrepareResponseBody{PrepareRequestHash: payload.Hash32{7}}},
		},
		Commits: []CommitEntry{
			{ValidatorIndex: 3, Body: CommitBody{Signature: bytes.Repeat([]byte{0x01}, 64)}},
		},
	}

	var buf bytes.Buffer
	msg.Encode(payload.NewWriter(&buf))
	got, err := DecodeRecoveryMessageBody(payload.NewReader(&buf, 0))
	require.NoError(t, err)
	require.Len(t, got.ChangeViews, 1)
	require.NotNil(t, got.PrepareRequest)
	require.Equal(t, uint8(1), got.PrepareRequest.ValidatorIndex)
	require.Len(t, got.PrepareResponses, 1)
	require.Len(t, got.Commits, 1)
}
