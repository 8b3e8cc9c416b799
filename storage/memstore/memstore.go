// Package memstore is an in-memory Store used by tests and the genesis
// bootstrap scenario of spec.md §8. It guarantees atomic commit trivially:
// a single mutex serialises every Commit.
package memstore

import (
	"sort"
	"strings"
	"sync"

	"github.com/neo-core/neod/storage"
)

// Store is a map-backed storage.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return v, ok
}

func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Store) Seek(prefix []byte) storage.Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := string(prefix)
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &iterator{store: s, keys: keys, pos: -1}
}

func (s *Store) Snapshot() storage.Snapshot {
	s.mu.RLock()
	base := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		base[k] = v
	}
	s.mu.RUnlock()

	return &snapshot{
		store:   s,
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (s *Store) Close() error { return nil }

type iterator struct {
	store *Store
	keys  []string
	pos   int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *iterator) Key() []byte {
	return []byte(it.keys[it.pos])
}

func (it *iterator) Value() []byte {
	it.store.mu.RLock()
	defer it.store.mu.RUnlock()
	return it.store.data[it.keys[it.pos]]
}

func (it *iterator) Release()     {}
func (it *iterator) Error() error { return nil }

// snapshot buffers writes locally until Commit, giving read-your-writes
// without touching the underlying Store until commit time.
type snapshot struct {
	store     *Store
	base      map[string][]byte
	writes    map[string][]byte
	deletes   map[string]bool
	committed bool
}

func (sn *snapshot) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if sn.deletes[k] {
		return nil, false
	}
	if v, ok := sn.writes[k]; ok {
		return v, true
	}
	v, ok := sn.base[k]
	return v, ok
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
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for k := range sn.base {
		if strings.HasPrefix(k, p) && !seen[k] && !sn.deletes[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &snapshotIterator{snap: sn, keys: keys, pos: -1}
}

func (sn *snapshot) Commit() error {
	sn.store.mu.Lock()
	defer sn.store.mu.Unlock()
	for k, v := range sn.writes {
		sn.store.data[k] = v
	}
	for k := range sn.deletes {
		delete(sn.store.data, k)
	}
	sn.committed = true
	return nil
}

type snapshotIterator struct {
	snap *snapshot
	keys []string
	pos  int
}

func (it *snapshotIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *snapshotIterator) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *snapshotIterator) Value() []byte {
	v, _ := it.snap.Get([]byte(it.keys[it.pos]))
	return v
}
func (it *snapshotIterator) Release()     {}
func (it *snapshotIterator) Error() error { return nil }
