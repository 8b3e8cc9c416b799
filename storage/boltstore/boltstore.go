// Package boltstore implements storage.Store over bbolt, the alternate
// storage engine config.StorageEngine can select (SPEC_FULL.md §4.A).
package boltstore

import (
	"bytes"
	"sort"

	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/storage"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("neo")

// Store wraps a *bolt.DB with a single top-level bucket; contract/key
// namespacing is handled by storage.StorageKey's prefix scheme, not by
// nested buckets, so Seek-by-prefix behaves identically across engines.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.New(errs.Fatal, "bbolt-open-failed", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, errs.New(errs.Fatal, "bbolt-bucket-init-failed", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

func (s *Store) Seek(prefix []byte) storage.Iterator {
	var keys, values [][]byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
			values = append(values, append([]byte(nil), v...))
		}
		return nil
	})
	return &iter{keys: keys, values: values, pos: -1}
}

func (s *Store) Close() error { return s.db.Close() }

// Snapshot opens a long-lived read transaction for isolated reads, and
// buffers writes for atomic application via Update on Commit. bbolt
// guarantees a read transaction sees a consistent point-in-time view even
// while writes proceed on other transactions, satisfying the
// lock-free-reader requirement of spec.md §4.A.
func (s *Store) Snapshot() storage.Snapshot {
	tx, err := s.db.Begin(false)
	if err != nil {
		panic(errs.New(errs.Fatal, "bbolt-snapshot-failed", err))
	}
	return &snapshot{
		db:      s.db,
		tx:      tx,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

type iter struct {
	keys, values [][]byte
	pos          int
}

func (i *iter) Next() bool    { i.pos++; return i.pos < len(i.keys) }
func (i *iter) Key() []byte   { return i.keys[i.pos] }
func (i *iter) Value() []byte { return i.values[i.pos] }
func (i *iter) Release()      {}
func (i *iter) Error() error  { return nil }

type snapshot struct {
	db      *bolt.DB
	tx      *bolt.Tx
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
	v := sn.tx.Bucket(bucketName).Get(key)
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (sn *snapshot) Put(key, value []byte) {
	k := string(key)
	delete(sn.deletes, k)
	sn.writes[k] = append([]byte(nil), value...)
}

func (sn *snapshot) Delete(key []byte) {
	k := string(key)
	delete(sn.writes, k)
	sn.deletes[k] = true
}

func (sn *snapshot) Seek(prefix []byte) storage.Iterator {
	p := string(prefix)
	seen := make(map[string]bool)
	var keys []string
	for k := range sn.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	c := sn.tx.Bucket(bucketName).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ks := string(k)
		if !seen[ks] && !sn.deletes[ks] {
			keys = append(keys, ks)
		}
	}
	sort.Strings(keys)

	out := &snapshotIter{snap: sn, keys: keys, pos: -1}
	return out
}

func (sn *snapshot) Commit() error {
	defer sn.tx.Rollback() //nolint:errcheck // read-only tx, always safe to close
	return sn.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for k, v := range sn.writes {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range sn.deletes {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

type snapshotIter struct {
	snap *snapshot
	keys []string
	pos  int
}

func (it *snapshotIter) Next() bool { it.pos++; return it.pos < len(it.keys) }
func (it *snapshotIter) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *snapshotIter) Value() []byte {
	v, _ := it.snap.Get([]byte(it.keys[it.pos]))
	return v
}
func (it *snapshotIter) Release()     {}
func (it *snapshotIter) Error() error { return nil }
