package payload

// AttributeType discriminates a Transaction attribute. Unknown discriminants
// must fail deserialisation (spec.md §4.C).
type AttributeType uint8

const (
	// AttrHighPriority carries no body. Nothing in this core treats it
	// specially; the mempool's per-sender cap applies as usual.
	AttrHighPriority AttributeType = 0x01
	// AttrOracleResponse carries an oracle request's result. Canonical
	// form resolved per spec.md §9's open question:
	// id:u64 || code:u8 || result:var_bytes, with result required empty
	// for any non-success code.
	AttrOracleResponse AttributeType = 0x11
	// AttrConflicts names a transaction hash this one must not coexist
	// with in the same pool or block (spec.md §3/§4.D).
	AttrConflicts AttributeType = 0x21
	// AttrNotValidBefore carries the earliest block height for inclusion.
	// It is encoded and decoded, but no check in this core enforces it.
	AttrNotValidBefore AttributeType = 0x20
)

const oracleSuccessCode uint8 = 0x00

// Attribute is a single Transaction attribute, tagged by Type.
type Attribute struct {
	Type AttributeType

	// Populated depending on Type.
	ConflictHash  Hash32 // AttrConflicts
	NotValidBefore uint32 // AttrNotValidBefore
	OracleID      uint64 // AttrOracleResponse
	OracleCode    uint8  // AttrOracleResponse
	OracleResult  []byte // AttrOracleResponse
}

func (a *Attribute) encode(bw *Writer) {
	bw.WriteU8(uint8(a.Type))
	switch a.Type {
	case AttrHighPriority:
		// no body
	case AttrConflicts:
		writeHash32(bw, a.ConflictHash)
	case AttrNotValidBefore:
		bw.WriteU32(a.NotValidBefore)
	case AttrOracleResponse:
		bw.WriteU64(a.OracleID)
		bw.WriteU8(a.OracleCode)
		bw.WriteVarBytes(a.OracleResult)
	}
}

// MaxOracleResultLength bounds the oracle response payload.
const MaxOracleResultLength = 65535

func decodeAttribute(br *Reader) Attribute {
	a := Attribute{Type: AttributeType(br.ReadU8())}
	switch a.Type {
	case AttrHighPriority:
	case AttrConflicts:
		a.ConflictHash = readHash32(br)
	case AttrNotValidBefore:
		a.NotValidBefore = br.ReadU32()
	case AttrOracleResponse:
		a.OracleID = br.ReadU64()
		a.OracleCode = br.ReadU8()
		a.OracleResult = br.ReadVarBytesCap(MaxOracleResultLength)
		if br.Err() == nil && a.OracleCode != oracleSuccessCode && len(a.OracleResult) != 0 {
			br.fail("oracle-result-must-be-empty-on-failure", nil)
		}
	default:
		br.fail("unknown-attribute-type", nil)
	}
	return a
}
