package native

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

// Role discriminates which off-chain duty a designated key set serves.
type Role uint8

const (
	RoleStateValidator Role = iota
	RoleOracle
	RoleNeoFSAlphabet
)

// RoleManagement lets the committee designate the key sets used for
// off-chain roles (oracle nodes, state validators), one generation per role
// recorded at the height it took effect so historical queries (what was
// designated at height H) stay answerable.
type RoleManagement struct{}

// NewRoleManagement builds an empty RoleManagement contract.
func NewRoleManagement() *RoleManagement { return &RoleManagement{} }

func (r *RoleManagement) ID() int32    { return IDRoleManagement }
func (r *RoleManagement) Name() string { return "RoleManagement" }

func (r *RoleManagement) OnPersist(storage.Snapshot, *payload.Block) error   { return nil }
func (r *RoleManagement) PostPersist(storage.Snapshot, *payload.Block) error { return nil }

func (r *RoleManagement) key(role Role, height uint32) []byte {
	suffix := make([]byte, 5)
	suffix[0] = byte(role)
	binary.BigEndian.PutUint32(suffix[1:], height)
	return storage.StorageKey(IDRoleManagement, suffix)
}

// DesignateAsRole records pubkeys as the role's designated set effective at
// height, a committee-governance action (spec.md §4.H method dispatch).
func (r *RoleManagement) DesignateAsRole(snap storage.Snapshot, role Role, height uint32, pubkeys []*crypto.PublicKey) {
	snap.Put(r.key(role, height), encodePublicKeys(pubkeys))
}

// GetDesignatedByRole returns the most recent designation for role at or
// before height, or nil if the committee has never designated one.
func (r *RoleManagement) GetDesignatedByRole(snap storage.Snapshot, role Role, height uint32) []*crypto.PublicKey {
	prefix := storage.StorageContractPrefix(IDRoleManagement)
	it := snap.Seek(append(prefix, byte(role)))
	defer it.Release()

	var best []byte
	var bestHeight uint32
	for it.Next() {
		h := binary.BigEndian.Uint32(it.Key()[len(it.Key())-4:])
		if h > height {
			continue
		}
		if best == nil || h > bestHeight {
			best = append([]byte{}, it.Value()...)
			bestHeight = h
		}
	}
	if best == nil {
		return nil
	}
	return decodePublicKeys(best)
}

func encodePublicKeys(pubs []*crypto.PublicKey) []byte {
	out := make([]byte, 0, 1+len(pubs)*33)
	out = append(out, byte(len(pubs)))
	for _, p := range pubs {
		out = append(out, elliptic.MarshalCompressed(crypto.Curve, p.X, p.Y)...)
	}
	return out
}

func decodePublicKeys(b []byte) []*crypto.PublicKey {
	if len(b) == 0 {
		return nil
	}
	n := int(b[0])
	out := make([]*crypto.PublicKey, 0, n)
	b = b[1:]
	for i := 0; i < n && len(b) >= 33; i++ {
		x, y := elliptic.UnmarshalCompressed(crypto.Curve, b[:33])
		if x == nil {
			break
		}
		out = append(out, &crypto.PublicKey{PublicKey: ecdsa.PublicKey{Curve: crypto.Curve, X: x, Y: y}})
		b = b[33:]
	}
	return out
}
