package storage

import "encoding/binary"

// Key prefixes for the persisted state layout of spec.md §6. Opaque to
// callers outside ledger/native, but fixed here so recovery tooling and
// tests agree on layout.
const (
	PrefixBlock            byte = 0x01
	PrefixTransaction      byte = 0x02
	PrefixStorage          byte = 0x03
	PrefixHeaderHashList   byte = 0x04
	PrefixCurrentBlockHash byte = 0x05
	PrefixCurrentHeaderHash byte = 0x06
	PrefixContract         byte = 0x07
)

// BlockKey builds the Block(hash) key.
func BlockKey(hash []byte) []byte {
	return append([]byte{PrefixBlock}, hash...)
}

// TransactionKey builds the Transaction(hash) key.
func TransactionKey(hash []byte) []byte {
	return append([]byte{PrefixTransaction}, hash...)
}

// StorageKey builds the Storage(contract_id, key) key: a fixed-width
// big-endian contract id so lexicographic seek-by-prefix groups a
// contract's rows together.
func StorageKey(contractID int32, key []byte) []byte {
	out := make([]byte, 1+4+len(key))
	out[0] = PrefixStorage
	binary.BigEndian.PutUint32(out[1:5], uint32(contractID))
	copy(out[5:], key)
	return out
}

// StorageContractPrefix builds the seek prefix for every row owned by
// contractID.
func StorageContractPrefix(contractID int32) []byte {
	out := make([]byte, 1+4)
	out[0] = PrefixStorage
	binary.BigEndian.PutUint32(out[1:5], uint32(contractID))
	return out
}

// HeaderHashListKey builds the HeaderHashList(index) key.
func HeaderHashListKey(index uint32) []byte {
	out := make([]byte, 5)
	out[0] = PrefixHeaderHashList
	binary.BigEndian.PutUint32(out[1:], index)
	return out
}

// CurrentBlockHashKey is the singleton key for the tip block hash/height.
func CurrentBlockHashKey() []byte { return []byte{PrefixCurrentBlockHash} }

// CurrentHeaderHashKey is the singleton key for the tip header hash/height.
func CurrentHeaderHashKey() []byte { return []byte{PrefixCurrentHeaderHash} }

// ContractKey builds the Contract(hash) key.
func ContractKey(hash []byte) []byte {
	return append([]byte{PrefixContract}, hash...)
}
