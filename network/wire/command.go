// Package wire implements spec.md §4.F/§6's P2P message plane framing:
// fixed-size command discriminants, optional LZ4 payload compression, and
// the payload shapes exchanged during handshake, inventory relay and
// header/block sync. Styled on the teacher's protowire message-per-file
// layout (daglabs-btcd/network/netadapter/server/grpcserver/protowire),
// adapted from protobuf-oneof framing to this core's canonical
// payload.Writer/Reader codec.
package wire

// Command discriminates a Frame's payload shape. The wire byte values are
// this core's own assignment; only the command set is fixed by spec.md §4.F.
type Command uint8

const (
	CmdVersion Command = iota
	CmdVerAck
	CmdPing
	CmdPong
	CmdGetAddr
	CmdAddr
	CmdGetHeaders
	CmdHeaders
	CmdGetBlocks
	CmdGetBlockByIndex
	CmdInv
	CmdGetData
	CmdNotFound
	CmdBlock
	CmdTx
	CmdMempool
	CmdExtensible
	CmdReject
	// CmdMerkleBlock, CmdFilterLoad, CmdFilterAdd are part of the
	// compressible set spec.md §4.F names but this core never sends or
	// accepts them (bloom filtering is out of scope); kept so
	// IsCompressible matches the spec's set exactly.
	CmdMerkleBlock
	CmdFilterLoad
	CmdFilterAdd
)

func (c Command) String() string {
	switch c {
	case CmdVersion:
		return "version"
	case CmdVerAck:
		return "verack"
	case CmdPing:
		return "ping"
	case CmdPong:
		return "pong"
	case CmdGetAddr:
		return "getaddr"
	case CmdAddr:
		return "addr"
	case CmdGetHeaders:
		return "getheaders"
	case CmdHeaders:
		return "headers"
	case CmdGetBlocks:
		return "getblocks"
	case CmdGetBlockByIndex:
		return "getblockbyindex"
	case CmdInv:
		return "inv"
	case CmdGetData:
		return "getdata"
	case CmdNotFound:
		return "notfound"
	case CmdBlock:
		return "block"
	case CmdTx:
		return "tx"
	case CmdMempool:
		return "mempool"
	case CmdExtensible:
		return "extensible"
	case CmdReject:
		return "reject"
	case CmdMerkleBlock:
		return "merkleblock"
	case CmdFilterLoad:
		return "filterload"
	case CmdFilterAdd:
		return "filteradd"
	default:
		return "unknown"
	}
}

// IsCompressible reports whether c is in spec.md §4.F's compressible set.
func (c Command) IsCompressible() bool {
	switch c {
	case CmdBlock, CmdExtensible, CmdTx, CmdHeaders, CmdAddr, CmdMerkleBlock, CmdFilterLoad, CmdFilterAdd:
		return true
	default:
		return false
	}
}

// InvType discriminates an inventory entry, bit-exact with the reference
// Neo N3 protocol (spec.md §6).
type InvType uint8

const (
	InvTypeTx         InvType = 0x2b
	InvTypeBlock      InvType = 0x2c
	InvTypeExtensible InvType = 0x2e
)
