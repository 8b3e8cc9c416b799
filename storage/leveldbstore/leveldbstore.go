// Package leveldbstore implements storage.Store over goleveldb, the engine
// the teacher (daglabs-btcd/database) itself uses for primary chain state.
package leveldbstore

import (
	"bytes"

	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/storage"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store wraps a *leveldb.DB.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a LevelDB store at path. Any failure to
// guarantee atomic batch commits is surfaced here, never discovered later
// mid-block (spec.md §4.A).
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errs.New(errs.Fatal, "leveldb-open-failed", errors.WithStack(err))
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, bool) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *Store) Seek(prefix []byte) storage.Iterator {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &iter{it: it}
}

func (s *Store) Close() error { return s.db.Close() }

// Snapshot takes a leveldb.Snapshot for isolated reads and buffers writes
// into a leveldb.Batch applied atomically on Commit.
func (s *Store) Snapshot() storage.Snapshot {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		// The only way GetSnapshot fails is a closed DB; callers only
		// ever call this while the node is running, so surface as
		// Fatal rather than silently degrading to dirty reads.
		panic(errs.New(errs.Fatal, "leveldb-snapshot-failed", err))
	}
	return &snapshot{
		db:      s.db,
		snap:    snap,
		batch:   new(leveldb.Batch),
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

type iter struct {
	it iterator.Iterator
}

func (i *iter) Next() bool         { return i.it.Next() }
func (i *iter) Key() []byte        { return append([]byte(nil), i.it.Key()...) }
func (i *iter) Value() []byte      { return append([]byte(nil), i.it.Value()...) }
func (i *iter) Release()           { i.it.Release() }
func (i *iter) Error() error       { return i.it.Error() }

type snapshot struct {
	db      *leveldb.DB
	snap    *leveldb.Snapshot
	batch   *leveldb.Batch
	writes  map[string][]byte
	deletes map[string]bool
}

func (sn *snapshot) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if sn.deletes[k] {
		return nil, false
	}
	if v, ok := sn.writes[k]; ok {
		return v, true
	}
	v, err := sn.snap.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (sn *snapshot) Put(key, value []byte) {
	k := string(key)
	delete(sn.deletes, k)
	v := append([]byte(nil), value...)
	sn.writes[k] = v
	sn.batch.Put(key, v)
}

func (sn *snapshot) Delete(key []byte) {
	k := string(key)
	delete(sn.writes, k)
	sn.deletes[k] = true
	sn.batch.Delete(key)
}

func (sn *snapshot) Seek(prefix []byte) storage.Iterator {
	it := sn.snap.NewIterator(util.BytesPrefix(prefix), nil)
	return &snapshotIter{base: &iter{it: it}, snap: sn, prefix: prefix}
}

func (sn *snapshot) Commit() error {
	return sn.db.Write(sn.batch, nil)
}

// snapshotIter layers the snapshot's pending writes on top of the base
// leveldb iterator so Seek reflects read-your-writes.
type snapshotIter struct {
	base   *iter
	snap   *snapshot
	prefix []byte
	extra  []string
	idx    int
	inExtra bool
}

func (si *snapshotIter) Next() bool {
	if si.idx == 0 && si.extra == nil {
		for k := range si.snap.writes {
			if bytes.HasPrefix([]byte(k), si.prefix) {
				si.extra = append(si.extra, k)
			}
		}
	}
	if si.base.Next() {
		k := si.base.Key()
		if si.snap.deletes[string(k)] {
			return si.Next()
		}
		if _, overwritten := si.snap.writes[string(k)]; overwritten {
			return si.Next()
		}
		return true
	}
	if si.idx < len(si.extra) {
		si.inExtra = true
		si.idx++
		return true
	}
	return false
}

func (si *snapshotIter) Key() []byte {
	if si.inExtra {
		return []byte(si.extra[si.idx-1])
	}
	return si.base.Key()
}

func (si *snapshotIter) Value() []byte {
	if si.inExtra {
		return si.snap.writes[si.extra[si.idx-1]]
	}
	return si.base.Value()
}

func (si *snapshotIter) Release() { si.base.Release() }
func (si *snapshotIter) Error() error { return si.base.Error() }
