// Package mempool implements spec.md §4.D: admission, fee ordering,
// conflict tracking and eviction for pending transactions, under a single
// mutex protecting the ordered index and hash map (spec.md §5). Witness
// verification for a candidate runs outside the lock; on insert only the
// pool-state checks (duplicate hash, conflicts, sender cap, capacity) are
// repeated under the lock.
package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/neo-core/neod/payload"
)

// RejectReason is the stable rejection kind returned to a submitter.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectInvalid
	RejectInsufficientFee
	RejectConflict
	RejectPoolFull
)

func (r RejectReason) String() string {
	switch r {
	case RejectInvalid:
		return "Invalid"
	case RejectInsufficientFee:
		return "InsufficientFee"
	case RejectConflict:
		return "Conflict"
	case RejectPoolFull:
		return "PoolFull"
	default:
		return "None"
	}
}

// Rejected is returned by TryAdd on admission failure.
type Rejected struct {
	Reason RejectReason
}

func (r *Rejected) Error() string { return "mempool: rejected: " + r.Reason.String() }

// Verifier is the seam the ledger executor implements: per-transaction
// witness verification and fee computation against a snapshot height,
// keeping the VM and signature-checking logic out of the mempool's scope
// (spec.md §9: no ambient snapshot parameters, explicit collaborator
// instead of an open-ended service lookup).
type Verifier interface {
	// VerifyWitnesses checks every witness of tx against the chain state
	// as of snapshotHeight. A non-nil error means the transaction is
	// structurally or cryptographically invalid.
	VerifyWitnesses(tx *payload.Transaction, snapshotHeight uint32) error
	// Height returns the current chain height, used to bound
	// ValidUntilBlock and to stamp new entries.
	Height() uint32
}

// Entry is a single pooled transaction (spec.md §3 Mempool entry).
type Entry struct {
	Tx                       *payload.Transaction
	Hash                     payload.Hash32
	VerificationSnapshotHeight uint32
	ArrivalTime              time.Time
	FeePerByte               int64
	size                     int
}

// Config tunes admission limits (spec.md §4.D defaults).
type Config struct {
	Capacity          int
	MaxPerSender      int
	MinFeePerByte     int64
	ReVerifyBatchSize int
	MaxValidUntilBlockIncrement uint32
}

// DefaultConfig mirrors the defaults named in spec.md §4.D.
func DefaultConfig() Config {
	return Config{
		Capacity:          50000,
		MaxPerSender:      20,
		MinFeePerByte:     1000,
		ReVerifyBatchSize: 10000,
		MaxValidUntilBlockIncrement: 86400,
	}
}

// Observer receives fire-and-forget notifications (spec.md §6 on_tx_added /
// on_tx_removed); Pool never blocks on these.
type Observer interface {
	OnTxAdded(hash payload.Hash32)
	OnTxRemoved(hash payload.Hash32, reason string)
}

// Pool is the mempool. A single mutex protects byHash/bySender/ordered;
// TryAdd/Remove/GetSorted are short critical sections per spec.md §5.
type Pool struct {
	cfg      Config
	verifier Verifier
	observer Observer

	mu       sync.Mutex
	byHash   map[payload.Hash32]*Entry
	bySender map[payload.Hash20]map[payload.Hash32]*Entry
	ordered  []*Entry // sorted descending by FeePerByte, tie-break hash ascending

	conflicts map[payload.Hash32]payload.Hash32 // tx hash -> hash it conflicts with, both directions recorded
}

// New creates an empty Pool.
func New(cfg Config, verifier Verifier, observer Observer) *Pool {
	return &Pool{
		cfg:       cfg,
		verifier:  verifier,
		observer:  observer,
		byHash:    make(map[payload.Hash32]*Entry),
		bySender:  make(map[payload.Hash20]map[payload.Hash32]*Entry),
		conflicts: make(map[payload.Hash32]payload.Hash32),
	}
}

// TryAdd runs the admission algorithm of spec.md §4.D steps 2-6 (step 1,
// deserialisation, is the caller's job -- tx already decoded here).
func (p *Pool) TryAdd(tx *payload.Transaction) error {
	height := p.verifier.Height()

	// (2) valid_until_block range check.
	if tx.ValidUntilBlock < height+1 || tx.ValidUntilBlock > height+p.cfg.MaxValidUntilBlockIncrement {
		return &Rejected{Reason: RejectInvalid}
	}

	hash := tx.Hash()

	// Witness verification happens outside the lock (step 3), against a
	// snapshot reference the verifier owns.
	if err := p.verifier.VerifyWitnesses(tx, height); err != nil {
		return &Rejected{Reason: RejectInvalid}
	}

	size := len(tx.UnsignedBytes())
	feePerByte := int64(0)
	if size > 0 {
		feePerByte = tx.NetworkFee / int64(size)
	}
	// (4) fee-per-byte policy floor.
	if feePerByte < p.cfg.MinFeePerByte {
		return &Rejected{Reason: RejectInsufficientFee}
	}

	entry := &Entry{
		Tx: tx, Hash: hash,
		VerificationSnapshotHeight: height,
		ArrivalTime:                time.Now(),
		FeePerByte:                 feePerByte,
		size:                       size,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under lock: duplicate hash, conflicts, sender cap, capacity.
	if _, exists := p.byHash[hash]; exists {
		return &Rejected{Reason: RejectConflict}
	}
	if err := p.checkConflictsLocked(tx, hash); err != nil {
		return err
	}
	if err := p.checkSenderCapLocked(tx.Sender()); err != nil {
		return err
	}
	if len(p.byHash) >= p.cfg.Capacity {
		if !p.evictForLocked(entry) {
			return &Rejected{Reason: RejectPoolFull}
		}
	}

	p.insertLocked(entry)
	if p.observer != nil {
		p.observer.OnTxAdded(hash)
	}
	return nil
}

func (p *Pool) checkConflictsLocked(tx *payload.Transaction, hash payload.Hash32) error {
	for _, attr := range tx.Attributes {
		if attr.Type != payload.AttrConflicts {
			continue
		}
		if _, exists := p.byHash[attr.ConflictHash]; exists {
			return &Rejected{Reason: RejectConflict}
		}
	}
	if conflict, ok := p.conflicts[hash]; ok {
		if _, exists := p.byHash[conflict]; exists {
			return &Rejected{Reason: RejectConflict}
		}
	}
	return nil
}

func (p *Pool) checkSenderCapLocked(sender payload.Hash20) error {
	if len(p.bySender[sender]) >= p.cfg.MaxPerSender {
		return &Rejected{Reason: RejectConflict}
	}
	return nil
}

// evictForLocked finds the lowest fee-per-byte entry; if it is strictly
// lower than candidate's, evicts it and returns true. Never evicts an entry
// with fee-per-byte >= candidate's (spec.md §8 Mempool fee monotonicity).
func (p *Pool) evictForLocked(candidate *Entry) bool {
	if len(p.ordered) == 0 {
		return false
	}
	lowest := p.ordered[len(p.ordered)-1]
	if lowest.FeePerByte >= candidate.FeePerByte {
		return false
	}
	p.removeLocked(lowest.Hash, "evicted")
	return true
}

func (p *Pool) insertLocked(e *Entry) {
	p.byHash[e.Hash] = e
	sender := e.Tx.Sender()
	if p.bySender[sender] == nil {
		p.bySender[sender] = make(map[payload.Hash32]*Entry)
	}
	p.bySender[sender][e.Hash] = e

	for _, attr := range e.Tx.Attributes {
		if attr.Type == payload.AttrConflicts {
			p.conflicts[attr.ConflictHash] = e.Hash
			p.conflicts[e.Hash] = attr.ConflictHash
		}
	}

	idx := sort.Search(len(p.ordered), func(i int) bool {
		return less(e, p.ordered[i])
	})
	p.ordered = append(p.ordered, nil)
	copy(p.ordered[idx+1:], p.ordered[idx:])
	p.ordered[idx] = e
}

// less reports whether a sorts before b: descending fee-per-byte, then
// ascending hash for determinism across honest primaries (spec.md §4.D
// Ordering).
func less(a, b *Entry) bool {
	if a.FeePerByte != b.FeePerByte {
		return a.FeePerByte > b.FeePerByte
	}
	return lessHash(a.Hash, b.Hash)
}

func lessHash(a, b payload.Hash32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Remove deletes the given hashes from the pool, called by the executor
// after a block persists and by the TTL sweep.
func (p *Pool) Remove(hashes []payload.Hash32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		p.removeLocked(h, "persisted")
	}
}

func (p *Pool) removeLocked(hash payload.Hash32, reason string) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	sender := e.Tx.Sender()
	delete(p.bySender[sender], hash)
	if len(p.bySender[sender]) == 0 {
		delete(p.bySender, sender)
	}
	for i, o := range p.ordered {
		if o.Hash == hash {
			p.ordered = append(p.ordered[:i], p.ordered[i+1:]...)
			break
		}
	}
	delete(p.conflicts, hash)
	if p.observer != nil {
		p.observer.OnTxRemoved(hash, reason)
	}
}

// GetSorted returns up to limit transactions for block proposal, skipping
// (and scheduling removal of) any whose ValidUntilBlock has expired, honours
// maxBytes and maxSystemFee caps cumulatively (spec.md §4.D Ordering).
func (p *Pool) GetSorted(limit int, maxBytes int, maxSystemFee int64) []*payload.Transaction {
	height := p.verifier.Height()

	p.mu.Lock()
	defer p.mu.Unlock()

	var result []*payload.Transaction
	var expired []payload.Hash32
	var totalBytes int
	var totalFee int64

	for _, e := range p.ordered {
		if len(result) >= limit {
			break
		}
		if e.Tx.ValidUntilBlock < height+1 {
			expired = append(expired, e.Hash)
			continue
		}
		if totalBytes+e.size > maxBytes {
			continue
		}
		if totalFee+e.Tx.SystemFee > maxSystemFee {
			continue
		}
		result = append(result, e.Tx)
		totalBytes += e.size
		totalFee += e.Tx.SystemFee
	}

	for _, h := range expired {
		p.removeLocked(h, "expired")
	}
	return result
}

// Get returns the pooled transaction for hash, or nil if it isn't pooled —
// the consensus Service's seam for resolving PrepareRequest's transaction
// hash list against locally-known transactions.
func (p *Pool) Get(hash payload.Hash32) *payload.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHash[hash]
	if !ok {
		return nil
	}
	return e.Tx
}

// Contains reports whether hash is currently pooled.
func (p *Pool) Contains(hash payload.Hash32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[hash]
	return ok
}

// Count returns the current pool size.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// IterBySender returns every pooled transaction hash sent by sender.
func (p *Pool) IterBySender(sender payload.Hash20) []payload.Hash32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.bySender[sender]
	out := make([]payload.Hash32, 0, len(entries))
	for h := range entries {
		out = append(out, h)
	}
	return out
}

// ReVerify re-checks up to cfg.ReVerifyBatchSize entries against the chain
// state as of newHeight, dropping any that fail; failures are silent aside
// from an observer notification (spec.md §4.D re-verification, §7 "re-verify
// failures are silently dropped"). Passing full=true checks every entry
// instead of one batch.
func (p *Pool) ReVerify(newHeight uint32, full bool) (checked, dropped int) {
	p.mu.Lock()
	candidates := make([]*Entry, 0, len(p.ordered))
	candidates = append(candidates, p.ordered...)
	p.mu.Unlock()

	limit := p.cfg.ReVerifyBatchSize
	if full || limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	for i := 0; i < limit; i++ {
		e := candidates[i]
		checked++
		if e.Tx.ValidUntilBlock < newHeight+1 {
			p.mu.Lock()
			p.removeLocked(e.Hash, "expired")
			p.mu.Unlock()
			dropped++
			continue
		}
		if err := p.verifier.VerifyWitnesses(e.Tx, newHeight); err != nil {
			p.mu.Lock()
			p.removeLocked(e.Hash, "reverify-failed")
			p.mu.Unlock()
			dropped++
			continue
		}
	}
	return checked, dropped
}
