// Package storage defines the key-value store abstraction of spec.md §4.A:
// read/write with atomic commit, prefix-ordered iteration, and lock-free
// snapshot reads concurrent with the single writer's commits.
package storage

// Iterator walks a Store's key range in lexicographic order starting at a
// given prefix. Callers must call Release when done.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Snapshot is a read-only, point-in-time view that also buffers pending
// writes (read-your-writes) until Commit applies them atomically to the
// underlying Store. A Snapshot never observes writes committed by another
// Snapshot after it was taken.
type Snapshot interface {
	Get(key []byte) ([]byte, bool)
	Seek(prefix []byte) Iterator
	Put(key, value []byte)
	Delete(key []byte)
	// Commit atomically applies every Put/Delete recorded since the
	// snapshot was taken. Commit must not be called twice.
	Commit() error
}

// Store is the key-value engine seam. Engines unable to guarantee atomic
// commit must fail in Open, never commit partially (spec.md §4.A).
type Store interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte) error
	Delete(key []byte) error
	Seek(prefix []byte) Iterator
	Snapshot() Snapshot
	Close() error
}
