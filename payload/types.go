package payload

import "github.com/neo-core/neod/crypto"

// Hash32 identifies a block or transaction: SHA256(SHA256(unsigned bytes)).
type Hash32 = crypto.Hash32

// Hash20 identifies an account or contract: RIPEMD160(SHA256(script)).
type Hash20 = crypto.Hash20

func writeHash32(bw *Writer, h Hash32) { bw.WriteBytes(h[:]) }

func readHash32(br *Reader) Hash32 {
	var h Hash32
	copy(h[:], br.ReadBytes(32))
	return h
}

func writeHash20(bw *Writer, h Hash20) { bw.WriteBytes(h[:]) }

func readHash20(br *Reader) Hash20 {
	var h Hash20
	copy(h[:], br.ReadBytes(20))
	return h
}
