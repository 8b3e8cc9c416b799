package wire

import (
	"bytes"

	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/payload"
)

// MaxUserAgentLength bounds VersionPayload.UserAgent.
const MaxUserAgentLength = 1024

// MaxAddressesPerMessage bounds AddrPayload.Addresses, mirroring the
// teacher's addressmanager's getAddresses response cap
// (daglabs-btcd/infrastructure/network/addressmanager/addressmanager.go).
const MaxAddressesPerMessage = 1000

// MaxInvHashes bounds InvPayload/GetDataPayload/NotFoundPayload entries.
const MaxInvHashes = 500

// MaxHeadersPerMessage bounds HeadersPayload, matching config.ProtocolConfig's
// default HeaderBatchSize ceiling.
const MaxHeadersPerMessage = 2000

func writeHash32(bw *payload.Writer, h payload.Hash32) { bw.WriteBytes(h[:]) }

func readHash32(br *payload.Reader) payload.Hash32 {
	var h payload.Hash32
	copy(h[:], br.ReadBytes(32))
	return h
}

func writeHash20(bw *payload.Writer, h payload.Hash20) { bw.WriteBytes(h[:]) }

func readHash20(br *payload.Reader) payload.Hash20 {
	var h payload.Hash20
	copy(h[:], br.ReadBytes(20))
	return h
}

// CapabilityType discriminates a NodeCapability entry (spec.md §4.F
// handshake: TcpServer, FullNode, DisableCompression).
type CapabilityType uint8

const (
	CapTcpServer CapabilityType = iota
	CapFullNode
	CapDisableCompression
)

// Capability is one advertised node capability.
type Capability struct {
	Type        CapabilityType
	TCPPort     uint16 // CapTcpServer
	StartHeight uint32 // CapFullNode
}

func (c Capability) encode(bw *payload.Writer) {
	bw.WriteU8(uint8(c.Type))
	switch c.Type {
	case CapTcpServer:
		bw.WriteU16(c.TCPPort)
	case CapFullNode:
		bw.WriteU32(c.StartHeight)
	case CapDisableCompression:
		// no payload
	}
}

func decodeCapability(br *payload.Reader) Capability {
	c := Capability{Type: CapabilityType(br.ReadU8())}
	switch c.Type {
	case CapTcpServer:
		c.TCPPort = br.ReadU16()
	case CapFullNode:
		c.StartHeight = br.ReadU32()
	case CapDisableCompression:
	}
	return c
}

func encodeCapabilities(bw *payload.Writer, caps []Capability) {
	bw.WriteVarInt(uint64(len(caps)))
	for _, c := range caps {
		c.encode(bw)
	}
}

func decodeCapabilities(br *payload.Reader) []Capability {
	n := br.ReadVarInt()
	if br.Err() != nil {
		return nil
	}
	caps := make([]Capability, n)
	for i := range caps {
		caps[i] = decodeCapability(br)
	}
	return caps
}

// VersionPayload is the handshake's first message. Field order is fixed by
// spec.md §4.F: magic, version, timestamp, nonce, user_agent, capabilities.
type VersionPayload struct {
	Magic        uint32
	Version      uint32
	Timestamp    uint64
	Nonce        uint64
	UserAgent    string
	Capabilities []Capability
}

func (p *VersionPayload) Encode(bw *payload.Writer) {
	bw.WriteU32(p.Magic)
	bw.WriteU32(p.Version)
	bw.WriteU64(p.Timestamp)
	bw.WriteU64(p.Nonce)
	bw.WriteVarBytes([]byte(p.UserAgent))
	encodeCapabilities(bw, p.Capabilities)
}

func DecodeVersionPayload(br *payload.Reader) (*VersionPayload, error) {
	p := &VersionPayload{}
	p.Magic = br.ReadU32()
	p.Version = br.ReadU32()
	p.Timestamp = br.ReadU64()
	p.Nonce = br.ReadU64()
	p.UserAgent = string(br.ReadVarBytesCap(MaxUserAgentLength))
	p.Capabilities = decodeCapabilities(br)
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// HasCapability reports whether p advertises the given capability type.
func (p *VersionPayload) HasCapability(t CapabilityType) bool {
	for _, c := range p.Capabilities {
		if c.Type == t {
			return true
		}
	}
	return false
}

// VerAckPayload acknowledges a VersionPayload; it carries no fields.
type VerAckPayload struct{}

func (p *VerAckPayload) Encode(bw *payload.Writer) {}

func DecodeVerAckPayload(br *payload.Reader) (*VerAckPayload, error) {
	return &VerAckPayload{}, nil
}

// PingPayload/PongPayload carry the sender's current height and a nonce the
// reply must echo, for both liveness and height discovery.
type PingPayload struct {
	LastBlockIndex uint32
	Nonce          uint32
}

func (p *PingPayload) Encode(bw *payload.Writer) {
	bw.WriteU32(p.LastBlockIndex)
	bw.WriteU32(p.Nonce)
}

func DecodePingPayload(br *payload.Reader) (*PingPayload, error) {
	p := &PingPayload{LastBlockIndex: br.ReadU32(), Nonce: br.ReadU32()}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

type PongPayload struct {
	LastBlockIndex uint32
	Nonce          uint32
}

func (p *PongPayload) Encode(bw *payload.Writer) {
	bw.WriteU32(p.LastBlockIndex)
	bw.WriteU32(p.Nonce)
}

func DecodePongPayload(br *payload.Reader) (*PongPayload, error) {
	p := &PongPayload{LastBlockIndex: br.ReadU32(), Nonce: br.ReadU32()}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// NetAddress is one reachable peer, as relayed by addr/getaddr.
type NetAddress struct {
	Timestamp uint32
	Address   [16]byte // IPv6, or IPv4-mapped
	Port      uint16
}

func (a NetAddress) encode(bw *payload.Writer) {
	bw.WriteU32(a.Timestamp)
	bw.WriteBytes(a.Address[:])
	bw.WriteU16(a.Port)
}

func decodeNetAddress(br *payload.Reader) NetAddress {
	a := NetAddress{Timestamp: br.ReadU32()}
	copy(a.Address[:], br.ReadBytes(16))
	a.Port = br.ReadU16()
	return a
}

// GetAddrPayload requests known peer addresses; it carries no fields.
type GetAddrPayload struct{}

func (p *GetAddrPayload) Encode(bw *payload.Writer) {}

func DecodeGetAddrPayload(br *payload.Reader) (*GetAddrPayload, error) {
	return &GetAddrPayload{}, nil
}

// AddrPayload answers GetAddr with a batch of known addresses.
type AddrPayload struct {
	Addresses []NetAddress
}

func (p *AddrPayload) Encode(bw *payload.Writer) {
	bw.WriteVarInt(uint64(len(p.Addresses)))
	for _, a := range p.Addresses {
		a.encode(bw)
	}
}

func DecodeAddrPayload(br *payload.Reader) (*AddrPayload, error) {
	n := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if n > MaxAddressesPerMessage {
		return nil, errs.New(errs.Deserialize, "addr-list-too-large", nil)
	}
	p := &AddrPayload{Addresses: make([]NetAddress, n)}
	for i := range p.Addresses {
		p.Addresses[i] = decodeNetAddress(br)
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// GetHeadersPayload requests up to MaxHeadersPerMessage headers starting
// after IndexStart.
type GetHeadersPayload struct {
	IndexStart uint32
	Count      uint16
}

func (p *GetHeadersPayload) Encode(bw *payload.Writer) {
	bw.WriteU32(p.IndexStart)
	bw.WriteU16(p.Count)
}

func DecodeGetHeadersPayload(br *payload.Reader) (*GetHeadersPayload, error) {
	p := &GetHeadersPayload{IndexStart: br.ReadU32(), Count: br.ReadU16()}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// HeadersPayload answers GetHeaders with a contiguous header batch.
type HeadersPayload struct {
	Headers []*payload.Header
}

func (p *HeadersPayload) Encode(bw *payload.Writer) {
	bw.WriteVarInt(uint64(len(p.Headers)))
	for _, h := range p.Headers {
		h.Encode(bw)
	}
}

func DecodeHeadersPayload(br *payload.Reader) (*HeadersPayload, error) {
	n := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if n > MaxHeadersPerMessage {
		return nil, errs.New(errs.Deserialize, "headers-batch-too-large", nil)
	}
	p := &HeadersPayload{Headers: make([]*payload.Header, n)}
	for i := range p.Headers {
		h, err := payload.DecodeHeader(br)
		if err != nil {
			return nil, err
		}
		p.Headers[i] = h
	}
	return p, nil
}

// GetBlocksPayload requests block hashes following HashStart, for the
// inv-then-getdata sync path.
type GetBlocksPayload struct {
	HashStart payload.Hash32
	Count     uint16
}

func (p *GetBlocksPayload) Encode(bw *payload.Writer) {
	writeHash32(bw, p.HashStart)
	bw.WriteU16(p.Count)
}

func DecodeGetBlocksPayload(br *payload.Reader) (*GetBlocksPayload, error) {
	p := &GetBlocksPayload{HashStart: readHash32(br), Count: br.ReadU16()}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// GetBlockByIndexPayload requests Count full blocks starting at IndexStart,
// the sync path's fixed-size request window (config.BlockRequestWindow).
type GetBlockByIndexPayload struct {
	IndexStart uint32
	Count      uint16
}

func (p *GetBlockByIndexPayload) Encode(bw *payload.Writer) {
	bw.WriteU32(p.IndexStart)
	bw.WriteU16(p.Count)
}

func DecodeGetBlockByIndexPayload(br *payload.Reader) (*GetBlockByIndexPayload, error) {
	p := &GetBlockByIndexPayload{IndexStart: br.ReadU32(), Count: br.ReadU16()}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// InvPayload announces inventory the sender has available: type followed
// by a var_array of hashes (spec.md §6).
type InvPayload struct {
	Type   InvType
	Hashes []payload.Hash32
}

func (p *InvPayload) Encode(bw *payload.Writer) {
	bw.WriteU8(uint8(p.Type))
	bw.WriteVarInt(uint64(len(p.Hashes)))
	for _, h := range p.Hashes {
		writeHash32(bw, h)
	}
}

func DecodeInvPayload(br *payload.Reader) (*InvPayload, error) {
	p := &InvPayload{Type: InvType(br.ReadU8())}
	n := br.ReadVarInt()
	if br.Err() != nil {
		return nil, br.Err()
	}
	if n > MaxInvHashes {
		return nil, errs.New(errs.Deserialize, "inv-list-too-large", nil)
	}
	p.Hashes = make([]payload.Hash32, n)
	for i := range p.Hashes {
		p.Hashes[i] = readHash32(br)
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// GetDataPayload requests the full objects named by an earlier Inv.
type GetDataPayload struct {
	Type   InvType
	Hashes []payload.Hash32
}

func (p *GetDataPayload) Encode(bw *payload.Writer) {
	(&InvPayload{Type: p.Type, Hashes: p.Hashes}).Encode(bw)
}

func DecodeGetDataPayload(br *payload.Reader) (*GetDataPayload, error) {
	inv, err := DecodeInvPayload(br)
	if err != nil {
		return nil, err
	}
	return &GetDataPayload{Type: inv.Type, Hashes: inv.Hashes}, nil
}

// NotFoundPayload answers a GetData request for objects the peer no longer
// has (e.g. evicted from the mempool before the request arrived).
type NotFoundPayload struct {
	Type   InvType
	Hashes []payload.Hash32
}

func (p *NotFoundPayload) Encode(bw *payload.Writer) {
	(&InvPayload{Type: p.Type, Hashes: p.Hashes}).Encode(bw)
}

func DecodeNotFoundPayload(br *payload.Reader) (*NotFoundPayload, error) {
	inv, err := DecodeInvPayload(br)
	if err != nil {
		return nil, err
	}
	return &NotFoundPayload{Type: inv.Type, Hashes: inv.Hashes}, nil
}

// BlockPayload carries one full block, answering GetData{Type: InvTypeBlock}.
type BlockPayload struct {
	Block *payload.Block
}

func (p *BlockPayload) Encode(bw *payload.Writer) { p.Block.Encode(bw) }

func DecodeBlockPayload(br *payload.Reader) (*BlockPayload, error) {
	b, err := payload.DecodeBlock(br)
	if err != nil {
		return nil, err
	}
	return &BlockPayload{Block: b}, nil
}

// TxPayload carries one transaction, whether freshly broadcast or answering
// GetData{Type: InvTypeTx}.
type TxPayload struct {
	Transaction *payload.Transaction
}

func (p *TxPayload) Encode(bw *payload.Writer) { p.Transaction.Encode(bw) }

func DecodeTxPayload(br *payload.Reader) (*TxPayload, error) {
	tx, err := payload.DecodeTransaction(br)
	if err != nil {
		return nil, err
	}
	return &TxPayload{Transaction: tx}, nil
}

// MempoolPayload requests a peer's pooled transaction hashes via a
// subsequent Inv; it carries no fields.
type MempoolPayload struct{}

func (p *MempoolPayload) Encode(bw *payload.Writer) {}

func DecodeMempoolPayload(br *payload.Reader) (*MempoolPayload, error) {
	return &MempoolPayload{}, nil
}

// MaxExtensibleDataSize bounds ExtensiblePayload.Data, wide enough for a
// bundled consensus Envelope (consensus.Envelope.Encode).
const MaxExtensibleDataSize = 1 << 20

// MaxCategoryLength bounds ExtensiblePayload.Category.
const MaxCategoryLength = 64

// ExtensiblePayload carries out-of-consensus-critical-path gossip (today:
// dBFT Envelopes) piggybacked on the P2P plane, scoped to a block-height
// validity window (spec.md §6). Witness is carried on the wire, but
// BroadcastConsensus leaves it empty and the receiving handler does not
// check it; dBFT envelopes are authenticated by their own signature.
type ExtensiblePayload struct {
	Category       string
	ValidBlockStart uint32
	ValidBlockEnd   uint32
	Sender          payload.Hash20
	Data            []byte
	Witness         payload.Witness
}

func (p *ExtensiblePayload) Encode(bw *payload.Writer) {
	bw.WriteVarBytes([]byte(p.Category))
	bw.WriteU32(p.ValidBlockStart)
	bw.WriteU32(p.ValidBlockEnd)
	writeHash20(bw, p.Sender)
	bw.WriteVarBytes(p.Data)
	p.Witness.Encode(bw)
}

// SigningData is the byte range the Witness authenticates: every field but
// the witness itself.
func (p *ExtensiblePayload) SigningData() []byte {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	bw.WriteVarBytes([]byte(p.Category))
	bw.WriteU32(p.ValidBlockStart)
	bw.WriteU32(p.ValidBlockEnd)
	writeHash20(bw, p.Sender)
	bw.WriteVarBytes(p.Data)
	return buf.Bytes()
}

func DecodeExtensiblePayload(br *payload.Reader) (*ExtensiblePayload, error) {
	p := &ExtensiblePayload{}
	p.Category = string(br.ReadVarBytesCap(MaxCategoryLength))
	p.ValidBlockStart = br.ReadU32()
	p.ValidBlockEnd = br.ReadU32()
	p.Sender = readHash20(br)
	p.Data = br.ReadVarBytesCap(MaxExtensibleDataSize)
	p.Witness = payload.DecodeWitness(br)
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// RejectReason discriminates why a peer rejected a message.
type RejectReason uint8

const (
	RejectMalformed RejectReason = iota
	RejectInvalid
	RejectObsolete
	RejectDuplicate
	RejectPolicyViolation
)

// RejectPayload tells a peer why their message, or connection, was refused.
type RejectPayload struct {
	Rejected Command
	Reason   RejectReason
	Message  string
}

func (p *RejectPayload) Encode(bw *payload.Writer) {
	bw.WriteU8(uint8(p.Rejected))
	bw.WriteU8(uint8(p.Reason))
	bw.WriteVarBytes([]byte(p.Message))
}

func DecodeRejectPayload(br *payload.Reader) (*RejectPayload, error) {
	p := &RejectPayload{Rejected: Command(br.ReadU8()), Reason: RejectReason(br.ReadU8())}
	p.Message = string(br.ReadVarBytesCap(256))
	if err := br.Err(); err != nil {
		return nil, err
	}
	return p, nil
}
