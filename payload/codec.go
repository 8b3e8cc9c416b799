// Package payload implements the canonical binary encoding of spec.md §4.C
// and the entities of §3: Block, Transaction, Signer, Witness, Attribute.
// Encoding is little-endian with a Bitcoin-style var_int (1/3/5/9 bytes)
// prefixing var_bytes and ordered collections, styled on the reader/writer
// helpers of the teacher's wire.ReadElement/WriteElement pair but folded
// into a single Reader/Writer type per the Neo wire-codec idiom.
package payload

import (
	"encoding/binary"
	"io"

	"github.com/neo-core/neod/errs"
)

// DefaultMaxArrayCap bounds var_int-prefixed collection lengths absent a
// more specific per-field cap, defending deserialisation against hostile
// declared lengths.
const DefaultMaxArrayCap = 0x1000000 // 16 MiB / 16 M elements ceiling

// Writer accumulates a canonical binary encoding.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w for canonical encoding.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered by any Write* call.
func (bw *Writer) Err() error { return bw.err }

func (bw *Writer) write(p []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(p)
}

// WriteU8 writes a single byte.
func (bw *Writer) WriteU8(v uint8) { bw.write([]byte{v}) }

// WriteU16 writes a little-endian uint16.
func (bw *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	bw.write(b[:])
}

// WriteU32 writes a little-endian uint32.
func (bw *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	bw.write(b[:])
}

// WriteU64 writes a little-endian uint64.
func (bw *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	bw.write(b[:])
}

// WriteI64 writes a little-endian int64.
func (bw *Writer) WriteI64(v int64) { bw.WriteU64(uint64(v)) }

// WriteVarInt writes v using the minimal 1/3/5/9-byte encoding.
func (bw *Writer) WriteVarInt(v uint64) {
	switch {
	case v < 0xfd:
		bw.WriteU8(uint8(v))
	case v <= 0xffff:
		bw.WriteU8(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		bw.write(b[:])
	case v <= 0xffffffff:
		bw.WriteU8(0xfe)
		bw.WriteU32(uint32(v))
	default:
		bw.WriteU8(0xff)
		bw.WriteU64(v)
	}
}

// WriteVarBytes writes a var_int length prefix followed by b.
func (bw *Writer) WriteVarBytes(b []byte) {
	bw.WriteVarInt(uint64(len(b)))
	bw.write(b)
}

// WriteBytes writes b with no length prefix (fixed-size fields).
func (bw *Writer) WriteBytes(b []byte) { bw.write(b) }

// Reader consumes a canonical binary encoding, enforcing the failure modes
// spec.md §4.C lists: oversize declared lengths, non-minimal var_ints,
// trailing data, unknown discriminants.
type Reader struct {
	r       io.Reader
	err     error
	maxCap  int
	read    int
}

// NewReader wraps r for canonical decoding. maxCap, if zero, defaults to
// DefaultMaxArrayCap.
func NewReader(r io.Reader, maxCap int) *Reader {
	if maxCap <= 0 {
		maxCap = DefaultMaxArrayCap
	}
	return &Reader{r: r, maxCap: maxCap}
}

// Err returns the first decode error, already wrapped as errs.Deserialize.
func (br *Reader) Err() error { return br.err }

func (br *Reader) fail(reason string, cause error) {
	if br.err == nil {
		br.err = errs.New(errs.Deserialize, reason, cause)
	}
}

func (br *Reader) readFull(p []byte) {
	if br.err != nil {
		return
	}
	_, err := io.ReadFull(br.r, p)
	if err != nil {
		br.fail("unexpected-eof", err)
		return
	}
	br.read += len(p)
}

// ReadU8 reads a single byte.
func (br *Reader) ReadU8() uint8 {
	var b [1]byte
	br.readFull(b[:])
	return b[0]
}

// ReadU16 reads a little-endian uint16.
func (br *Reader) ReadU16() uint16 {
	var b [2]byte
	br.readFull(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

// ReadU32 reads a little-endian uint32.
func (br *Reader) ReadU32() uint32 {
	var b [4]byte
	br.readFull(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// ReadU64 reads a little-endian uint64.
func (br *Reader) ReadU64() uint64 {
	var b [8]byte
	br.readFull(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// ReadI64 reads a little-endian int64.
func (br *Reader) ReadI64() int64 { return int64(br.ReadU64()) }

// ReadVarInt reads a var_int, failing with "non-minimal-varint" if the
// encoding is not the shortest possible for the decoded value.
func (br *Reader) ReadVarInt() uint64 {
	prefix := br.ReadU8()
	if br.err != nil {
		return 0
	}

	switch prefix {
	case 0xfd:
		var b [2]byte
		br.readFull(b[:])
		v := uint64(binary.LittleEndian.Uint16(b[:]))
		if v < 0xfd {
			br.fail("non-minimal-varint", nil)
		}
		return v
	case 0xfe:
		v := uint64(br.ReadU32())
		if v <= 0xffff {
			br.fail("non-minimal-varint", nil)
		}
		return v
	case 0xff:
		v := br.ReadU64()
		if v <= 0xffffffff {
			br.fail("non-minimal-varint", nil)
		}
		return v
	default:
		return uint64(prefix)
	}
}

// ReadVarBytes reads a var_int-prefixed byte slice, failing with
// "field-too-large" if the declared length exceeds the reader's default cap.
func (br *Reader) ReadVarBytes() []byte {
	return br.ReadVarBytesCap(br.maxCap)
}

// ReadVarBytesCap is like ReadVarBytes but enforces a caller-supplied
// per-field cap (e.g. a smaller ceiling for witness scripts than for block
// bodies), per spec.md §4.C.
func (br *Reader) ReadVarBytesCap(cap int) []byte {
	n := br.ReadVarInt()
	if br.err != nil {
		return nil
	}
	if n > uint64(cap) {
		br.fail("field-too-large", nil)
		return nil
	}
	b := make([]byte, n)
	br.readFull(b)
	return b
}

// ReadBytes reads exactly n bytes with no length prefix.
func (br *Reader) ReadBytes(n int) []byte {
	b := make([]byte, n)
	br.readFull(b)
	return b
}

// ExpectEOF fails with "trailing-data" if any bytes remain unread.
func (br *Reader) ExpectEOF() {
	if br.err != nil {
		return
	}
	var b [1]byte
	n, err := br.r.Read(b[:])
	if n > 0 {
		br.fail("trailing-data", nil)
		return
	}
	if err != nil && err != io.EOF {
		br.fail("unexpected-eof", err)
	}
}
