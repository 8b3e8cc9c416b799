package native

import (
	"encoding/binary"

	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

var (
	oracleKeyNextID  = []byte{0x01}
	oracleKeyRequest = []byte{0x02} // + big-endian u64 request id
)

// OracleRequest is a pending off-chain fetch recorded by Request and
// resolved by a later transaction's AttrOracleResponse attribute, mirroring
// original_source's oracle_contract_requests.cpp bookkeeping. This core has
// no VM to invoke the requesting contract's callback once a response
// arrives (spec.md §1 Non-goals), so PostPersist only retires the request
// from state; delivering OracleResult to Callback is left to a caller with
// script-execution capability.
type OracleRequest struct {
	URL            string
	Filter         string
	Callback       string
	UserData       []byte
	GasForResponse int64
}

// OracleContract records pending off-chain data requests and resolves them
// once a designated oracle node's response transaction lands in a block.
type OracleContract struct{}

// NewOracleContract builds an empty OracleContract.
func NewOracleContract() *OracleContract { return &OracleContract{} }

func (o *OracleContract) ID() int32    { return IDOracle }
func (o *OracleContract) Name() string { return "OracleContract" }

// OnPersist does nothing: requests are created by explicit Request calls,
// not as a function of block contents.
func (o *OracleContract) OnPersist(storage.Snapshot, *payload.Block) error { return nil }

// PostPersist scans the block's transactions for AttrOracleResponse
// attributes and clears the matching pending request, if any.
func (o *OracleContract) PostPersist(snap storage.Snapshot, block *payload.Block) error {
	for _, tx := range block.Transactions {
		for _, attr := range tx.Attributes {
			if attr.Type != payload.AttrOracleResponse {
				continue
			}
			snap.Delete(o.requestKey(attr.OracleID))
		}
	}
	return nil
}

func (o *OracleContract) requestKey(id uint64) []byte {
	suffix := make([]byte, len(oracleKeyRequest)+8)
	copy(suffix, oracleKeyRequest)
	binary.BigEndian.PutUint64(suffix[len(oracleKeyRequest):], id)
	return storage.StorageKey(IDOracle, suffix)
}

func (o *OracleContract) nextID(snap storage.Snapshot) uint64 {
	key := storage.StorageKey(IDOracle, oracleKeyNextID)
	var id uint64
	if raw, ok := snap.Get(key); ok {
		id = binary.LittleEndian.Uint64(raw)
	}
	var next [8]byte
	binary.LittleEndian.PutUint64(next[:], id+1)
	snap.Put(key, next[:])
	return id
}

// Request records a new pending oracle fetch and returns its request id, the
// value a caller embeds in the eventual response transaction's
// AttrOracleResponse.OracleID.
func (o *OracleContract) Request(snap storage.Snapshot, url, filter, callback string, userData []byte, gasForResponse int64) uint64 {
	id := o.nextID(snap)
	snap.Put(o.requestKey(id), encodeOracleRequest(OracleRequest{
		URL:            url,
		Filter:         filter,
		Callback:       callback,
		UserData:       userData,
		GasForResponse: gasForResponse,
	}))
	return id
}

// GetRequest looks up a still-pending request by id.
func (o *OracleContract) GetRequest(snap storage.Snapshot, id uint64) (OracleRequest, bool) {
	raw, ok := snap.Get(o.requestKey(id))
	if !ok {
		return OracleRequest{}, false
	}
	return decodeOracleRequest(raw), true
}

func encodeOracleRequest(r OracleRequest) []byte {
	var buf buffer
	buf.writeString(r.URL)
	buf.writeString(r.Filter)
	buf.writeString(r.Callback)
	buf.writeBytes(r.UserData)
	buf.writeI64(r.GasForResponse)
	return buf.bytes()
}

func decodeOracleRequest(b []byte) OracleRequest {
	r := reader{b: b}
	return OracleRequest{
		URL:            r.readString(),
		Filter:         r.readString(),
		Callback:       r.readString(),
		UserData:       r.readBytes(),
		GasForResponse: r.readI64(),
	}
}

// buffer/reader are a minimal length-prefixed encoding local to this file;
// the request record never crosses the wire (it's pure internal storage
// state), so it doesn't need payload.Writer/Reader's var_int framing.
type buffer struct {
	out []byte
}

func (b *buffer) writeBytes(v []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	b.out = append(b.out, lenBuf[:]...)
	b.out = append(b.out, v...)
}

func (b *buffer) writeString(v string) { b.writeBytes([]byte(v)) }

func (b *buffer) writeI64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	b.out = append(b.out, buf[:]...)
}

func (b *buffer) bytes() []byte { return b.out }

type reader struct {
	b   []byte
	pos int
}

func (r *reader) readBytes() []byte {
	n := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	v := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v
}

func (r *reader) readString() string { return string(r.readBytes()) }

func (r *reader) readI64() int64 {
	v := int64(binary.LittleEndian.Uint64(r.b[r.pos:]))
	r.pos += 8
	return v
}
