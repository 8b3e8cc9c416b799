package ledger

import (
	"bytes"

	"github.com/neo-core/neod/payload"
)

func encodeBlock(b *payload.Block) []byte {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	b.Encode(bw)
	return buf.Bytes()
}

func decodeBlock(raw []byte) (*payload.Block, error) {
	br := payload.NewReader(bytes.NewReader(raw), 0)
	return payload.DecodeBlock(br)
}

func encodeTransaction(tx *payload.Transaction) []byte {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	tx.Encode(bw)
	return buf.Bytes()
}
