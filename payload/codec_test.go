package payload

import (
	"bytes"
	"testing"

	"github.com/neo-core/neod/errs"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000, 1 << 40}
	for _, v := range values {
		var buf bytes.Buffer
		bw := NewWriter(&buf)
		bw.WriteVarInt(v)
		require.NoError(t, bw.Err())

		br := NewReader(&buf, 0)
		got := br.ReadVarInt()
		require.NoError(t, br.Err())
		require.Equal(t, v, got)
	}
}

func TestVarIntRejectsNonMinimalEncoding(t *testing.T) {
	// 0xfd followed by 0x00 0x00 encodes 0, which should have been a
	// single byte -- non-canonical.
	buf := bytes.NewReader([]byte{0xfd, 0x00, 0x00})
	br := NewReader(buf, 0)
	br.ReadVarInt()
	require.True(t, errs.Is(br.Err(), errs.Deserialize))
}

func TestReaderRejectsTrailingData(t *testing.T) {
	buf := bytes.NewReader([]byte{0x01, 0x02})
	br := NewReader(buf, 0)
	br.ReadU8()
	br.ExpectEOF()
	require.Error(t, br.Err())
}

func TestVarBytesCapEnforced(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	bw.WriteVarBytes(make([]byte, 100))

	br := NewReader(&buf, 10)
	br.ReadVarBytes()
	require.True(t, errs.Is(br.Err(), errs.Deserialize))
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := &Transaction{
		Version:         0,
		Nonce:           42,
		SystemFee:       100,
		NetworkFee:      10,
		ValidUntilBlock: 1000,
		Signers: []Signer{
			{Account: Hash20{1, 2, 3}, Scopes: ScopeCalledByEntry},
		},
		Attributes: []Attribute{{Type: AttrHighPriority}},
		Script:     []byte{0x01, 0x02, 0x03},
		Witnesses: []Witness{
			{InvocationScript: []byte{0x0c}, VerificationScript: []byte{0x0d}},
		},
	}

	var buf bytes.Buffer
	tx.Encode(NewWriter(&buf))

	br := NewReader(&buf, 0)
	got, err := DecodeTransaction(br)
	require.NoError(t, err)
	require.Equal(t, tx.Nonce, got.Nonce)
	require.Equal(t, tx.Script, got.Script)
	require.Equal(t, tx.Hash(), got.Hash())
}

func TestTransactionRejectsEmptyScript(t *testing.T) {
	tx := &Transaction{
		Signers:   []Signer{{Account: Hash20{1}}},
		Witnesses: []Witness{{}},
	}
	var buf bytes.Buffer
	tx.Encode(NewWriter(&buf))

	_, err := DecodeTransaction(NewReader(&buf, 0))
	require.True(t, errs.Is(err, errs.Validation))
}

func TestBlockMerkleRoot(t *testing.T) {
	tx1 := &Transaction{Signers: []Signer{{Account: Hash20{1}}}, Script: []byte{1}, Witnesses: []Witness{{}}}
	tx2 := &Transaction{Signers: []Signer{{Account: Hash20{2}}}, Script: []byte{2}, Witnesses: []Witness{{}}}

	b := &Block{Transactions: []*Transaction{tx1, tx2}}
	b.Header.MerkleRoot = b.ComputeMerkleRoot()

	require.Equal(t, b.Header.MerkleRoot, b.ComputeMerkleRoot())
}

func TestOracleResponseRequiresEmptyResultOnFailure(t *testing.T) {
	a := Attribute{Type: AttrOracleResponse, OracleID: 1, OracleCode: 1, OracleResult: []byte("x")}
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	a.encode(bw)

	br := NewReader(&buf, 0)
	decodeAttribute(br)
	require.Error(t, br.Err())
}
