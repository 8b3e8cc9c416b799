package wire

import (
	"bytes"

	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
	"github.com/pierrec/lz4"
)

// Flags is the frame's single flags byte (spec.md §4.F).
type Flags uint8

const (
	// FlagCompressed marks Frame.Payload as LZ4-compressed; the receiver
	// must decompress to the raw size given by the var_int that prefixes
	// Payload before further decoding.
	FlagCompressed Flags = 1 << 0
)

// MaxFrameSize bounds a declared payload length, defending deserialisation
// against hostile oversize frames ahead of any per-command cap.
const MaxFrameSize = 4 << 20 // 4 MiB

// compressMinSize is the uncompressed-size floor below which compression
// is never attempted (spec.md §4.F).
const compressMinSize = 128

// compressMinSavings is the minimum byte reduction compression must
// achieve to be worth the round trip; below it the sender clears the flag
// and sends raw (spec.md §4.F).
const compressMinSavings = 32

// Frame is one wire message: flags || command || var_bytes(payload). A
// Frame's Payload is always the on-wire bytes — NewFrame and Decoded move
// between this and a command's decoded form.
type Frame struct {
	Flags   Flags
	Command Command
	Payload []byte
}

// NewFrame builds a Frame from an already-encoded payload, compressing it
// when the command is compressible and doing so is worthwhile. A
// compressed Payload is var_int(rawSize) followed by the LZ4 block, so
// Decoded needs no out-of-band size hint.
func NewFrame(cmd Command, raw []byte) *Frame {
	f := &Frame{Command: cmd, Payload: raw}
	if !cmd.IsCompressible() || len(raw) < compressMinSize {
		return f
	}
	compressed, ok := compress(raw)
	if !ok || len(raw)-len(compressed) < compressMinSavings {
		return f
	}
	buf, bw := bufWriter()
	bw.WriteVarInt(uint64(len(raw)))
	bw.WriteBytes(compressed)
	f.Flags |= FlagCompressed
	f.Payload = buf.Bytes()
	return f
}

// Decoded returns the frame's payload bytes, decompressing if necessary.
func (f *Frame) Decoded() ([]byte, error) {
	if f.Flags&FlagCompressed == 0 {
		return f.Payload, nil
	}
	br := payload.NewReader(bytes.NewReader(f.Payload), 0)
	rawSize := br.ReadVarInt()
	if err := br.Err(); err != nil {
		return nil, err
	}
	if rawSize > MaxFrameSize {
		return nil, errs.New(errs.Deserialize, "lz4-rawsize-too-large", nil)
	}
	compressed := br.ReadVarBytesCap(MaxFrameSize)
	if err := br.Err(); err != nil {
		return nil, err
	}
	out, err := decompress(compressed, int(rawSize))
	if err != nil {
		return nil, errs.New(errs.Deserialize, "lz4-decompress-failed", err)
	}
	return out, nil
}

// Encode writes the frame to bw.
func (f *Frame) Encode(bw *payload.Writer) {
	bw.WriteU8(uint8(f.Flags))
	bw.WriteU8(uint8(f.Command))
	bw.WriteVarBytes(f.Payload)
}

// DecodeFrame reads one frame from br.
func DecodeFrame(br *payload.Reader) (*Frame, error) {
	f := &Frame{}
	f.Flags = Flags(br.ReadU8())
	f.Command = Command(br.ReadU8())
	f.Payload = br.ReadVarBytesCap(MaxFrameSize)
	if err := br.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// compress LZ4-compresses src, reporting ok=false if the block-compressor
// found it incompressible (pierrec/lz4 returns n=0 in that case).
func compress(src []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	ht := make([]int, 1<<16)
	n, err := lz4.CompressBlock(src, dst, ht)
	if err != nil || n == 0 {
		return nil, false
	}
	return dst[:n], true
}

func decompress(src []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// bufWriter is a small helper so payload bodies can Encode into a fresh
// buffer before being handed to NewFrame.
func bufWriter() (*bytes.Buffer, *payload.Writer) {
	var buf bytes.Buffer
	return &buf, payload.NewWriter(&buf)
}
