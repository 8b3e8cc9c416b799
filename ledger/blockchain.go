package ledger

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/neo-core/neod/config"
	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/native"
	"github.com/neo-core/neod/payload"
	"github.com/neo-core/neod/storage"
)

// ClockSkewTolerance bounds how far a block's timestamp may sit ahead of
// local wall-clock time before it is rejected (spec.md §4.E step 1).
const ClockSkewTolerance = 15 * time.Second

// MaxOrphans bounds the orphan cache; oldest-first sweep when full
// (spec.md §4.E).
const MaxOrphans = 10000

// Observer receives fire-and-forget persistence notifications
// (spec.md §6). Blockchain never blocks on these; Node wires a bounded
// worker pool around Observer calls.
type Observer interface {
	OnBlockPersisted(height uint32, hash payload.Hash32)
}

// Blockchain is the sole writer of storage.Store (spec.md §4.E / §5).
type Blockchain struct {
	mu sync.RWMutex

	store      storage.Store
	policy     config.PolicyCaps
	validators *payload.ValidatorSet
	engine     Engine
	observer   Observer
	native     *native.Registry

	tip    payload.Header
	height uint32
	hasTip bool

	headers      map[payload.Hash32]*payload.Header // accepted ahead of body, bounded by HeaderWindow
	headerTip    payload.Hash32
	headerHeight uint32

	orphans     map[payload.Hash32]*payload.Block // keyed by prev-hash
	orphanOrder []payload.Hash32

	blockHashByHeight map[uint32]payload.Hash32
}

// New creates a Blockchain over an already-open store. It does not load a
// tip from the store: every Blockchain starts without one, and Bootstrap
// with a genesis block must be called before any other method is used.
func New(store storage.Store, policy config.PolicyCaps, validators *payload.ValidatorSet, engine Engine, observer Observer) *Blockchain {
	return &Blockchain{
		store:             store,
		policy:            policy,
		validators:        validators,
		engine:            engine,
		observer:          observer,
		native:            native.NewRegistry(validators),
		headers:           make(map[payload.Hash32]*payload.Header),
		orphans:           make(map[payload.Hash32]*payload.Block),
		blockHashByHeight: make(map[uint32]payload.Hash32),
	}
}

// NativeRegistry exposes the native contract set for callers (RPC-style
// state queries, genesis bootstrap seeding GasToken balances) that need
// direct access rather than going through block persistence.
func (bc *Blockchain) NativeRegistry() *native.Registry { return bc.native }

// Height returns the current persisted chain height, implementing
// mempool.Verifier.
func (bc *Blockchain) Height() uint32 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// CurrentBlockHash returns the tip's hash.
func (bc *Blockchain) CurrentBlockHash() payload.Hash32 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip.Hash()
}

// Bootstrap installs genesis as height 0, bypassing normal prev-hash/
// timestamp checks since there is no parent (spec.md §8 scenario 1).
func (bc *Blockchain) Bootstrap(genesis *payload.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.hasTip {
		return errs.New(errs.Validation, "already-bootstrapped", nil)
	}
	if err := bc.commitLocked(genesis); err != nil {
		return err
	}
	return nil
}

// ValidatorSet returns the committee this Blockchain verifies against.
func (bc *Blockchain) ValidatorSet() *payload.ValidatorSet { return bc.validators }

// BlockHashAtHeight returns the persisted block hash at height, used by the
// network plane's getblockbyindex sync responder.
func (bc *Blockchain) BlockHashAtHeight(height uint32) (payload.Hash32, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	h, ok := bc.blockHashByHeight[height]
	return h, ok
}

// AddBlock runs the five-step verification checklist of spec.md §4.E and
// commits on success. fromConsensus indicates the block came from the
// local consensus engine post-quorum (trusted commit signatures, but
// transactions and structural invariants are still re-verified); when
// false the block's witness is fully verified against prev.next_consensus.
func (bc *Blockchain) AddBlock(b *payload.Block, fromConsensus bool) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if err := bc.verifyStructuralLocked(b); err != nil {
		if isMissingParent(err) {
			bc.cacheOrphanLocked(b)
		}
		return err
	}

	if err := bc.verifyWitnessLocked(b, fromConsensus); err != nil {
		return err
	}

	if err := bc.verifyTransactionsLocked(b); err != nil {
		return err
	}

	if err := bc.executeAndCommitLocked(b); err != nil {
		return err
	}

	bc.resolveOrphansLocked(b.Hash())
	return nil
}

func isMissingParent(err error) bool {
	var e *errs.Error
	if stderrors.As(err, &e) {
		return e.Reason == "unknown-parent"
	}
	return false
}

// verifyStructuralLocked implements spec.md §4.E step 1.
func (bc *Blockchain) verifyStructuralLocked(b *payload.Block) error {
	if bc.hasTip {
		if b.Index <= bc.height {
			return errs.New(errs.Validation, "bad-height", nil)
		}
		if b.Index > bc.height+1 {
			// Ahead of the known tip: the intervening block(s) are the
			// missing parent, not this one. Cache for later resolution
			// rather than rejecting outright.
			return errs.New(errs.Validation, "unknown-parent", nil)
		}
		if b.PrevHash != bc.tip.Hash() {
			return errs.New(errs.Validation, "unknown-parent", nil)
		}
		if b.Timestamp <= bc.tip.Timestamp {
			return errs.New(errs.Validation, "non-monotonic-timestamp", nil)
		}
	} else if b.Index != 0 {
		return errs.New(errs.Validation, "unknown-parent", nil)
	}

	if int(b.PrimaryIndex) >= bc.validators.N() {
		return errs.New(errs.Validation, "bad-primary-index", nil)
	}
	maxSkew := time.Now().Add(ClockSkewTolerance).UnixMilli()
	if int64(b.Timestamp) > maxSkew {
		return errs.New(errs.Validation, "timestamp-too-far-ahead", nil)
	}
	if len(b.Transactions) > bc.policy.MaxTransactionsPerBlock {
		return errs.New(errs.Validation, "too-many-transactions", nil)
	}
	return nil
}

// verifyWitnessLocked implements spec.md §4.E step 2.
func (bc *Blockchain) verifyWitnessLocked(b *payload.Block, fromConsensus bool) error {
	if len(b.Witness.VerificationScript) == 0 {
		return errs.New(errs.Validation, "InvalidBlockWitness", nil)
	}
	if !bc.hasTip {
		return nil // genesis has no next_consensus to check against
	}
	if b.Witness.ScriptHash() != bc.tip.NextConsensus {
		return errs.New(errs.Validation, "InvalidBlockWitness", nil)
	}
	digest := crypto.Hash256(b.Header.SigningData())
	if err := verifyStandardWitness(&b.Witness, digest[:]); err != nil {
		return errs.New(errs.Validation, "InvalidBlockWitness", err)
	}
	return nil
}

// verifyTransactionsLocked implements spec.md §4.E step 3.
func (bc *Blockchain) verifyTransactionsLocked(b *payload.Block) error {
	seen := make(map[payload.Hash32]bool, len(b.Transactions))
	seenNonce := make(map[uint32]bool, len(b.Transactions))
	var totalSystemFee int64
	var totalSize int

	for _, tx := range b.Transactions {
		h := tx.Hash()
		if seen[h] {
			return errs.New(errs.Validation, "duplicate-transaction", nil)
		}
		seen[h] = true
		if seenNonce[tx.Nonce] {
			return errs.New(errs.Validation, "duplicate-nonce", nil)
		}
		seenNonce[tx.Nonce] = true

		if tx.ValidUntilBlock < b.Index {
			return errs.New(errs.Validation, "transaction-expired", nil)
		}
		if err := bc.VerifyWitnesses(tx, b.Index-1); err != nil {
			return err
		}
		for _, attr := range tx.Attributes {
			if attr.Type == payload.AttrConflicts && seen[attr.ConflictHash] {
				return errs.New(errs.Validation, "conflicting-transactions-in-block", nil)
			}
		}

		totalSystemFee += tx.SystemFee
		totalSize += len(tx.UnsignedBytes())
	}

	if totalSystemFee > bc.policy.MaxBlockSystemFee {
		return errs.New(errs.Validation, "block-system-fee-exceeded", nil)
	}
	if totalSize > bc.policy.MaxBlockSize {
		return errs.New(errs.Validation, "block-size-exceeded", nil)
	}
	if b.Header.MerkleRoot != b.ComputeMerkleRoot() {
		return errs.New(errs.Validation, "merkle-root-mismatch", nil)
	}
	return nil
}

// executeAndCommitLocked implements spec.md §4.E steps 4-5.
func (bc *Blockchain) executeAndCommitLocked(b *payload.Block) error {
	return bc.commitLocked(b)
}

// commitLocked runs execution against a fresh snapshot and atomically
// commits it, updating in-memory tip state only after Commit succeeds.
func (bc *Blockchain) commitLocked(b *payload.Block) error {
	snap := bc.store.Snapshot()

	// Native contract dispatch brackets ordinary script execution
	// (spec.md §4.H): OnPersist runs first so e.g. this height's GAS
	// reward is mintable before any transaction spends it, PostPersist
	// runs last so e.g. fee burn and oracle-response bookkeeping see the
	// block's final transaction set.
	if err := bc.native.OnPersist(snap, b); err != nil {
		return errs.New(errs.Fatal, "native-onpersist-failed", err)
	}

	for _, tx := range b.Transactions {
		bc.applyTransaction(snap, tx)
	}

	if err := bc.native.PostPersist(snap, b); err != nil {
		return errs.New(errs.Fatal, "native-postpersist-failed", err)
	}

	bc.writeBlockLocked(snap, b)

	if err := snap.Commit(); err != nil {
		// Any store commit failure is Fatal: the process must not
		// continue with possibly-partial state (spec.md §7).
		return errs.New(errs.Fatal, "store-commit-failed", err)
	}

	bc.tip = b.Header
	bc.height = b.Index
	bc.hasTip = true
	bc.blockHashByHeight[b.Index] = b.Hash()
	delete(bc.headers, b.Hash()) // now persisted as part of the block record

	if bc.observer != nil {
		bc.observer.OnBlockPersisted(b.Index, b.Hash())
	}
	return nil
}

// applyTransaction runs spec.md §4.E step 4: the script executes against
// snap under a gas limit of SystemFee. A conforming Engine is responsible
// for not leaving partial state behind on fault; the executor's only job
// here is to not let a fault abort the rest of the block.
func (bc *Blockchain) applyTransaction(snap storage.Snapshot, tx *payload.Transaction) *ExecutionResult {
	result, err := bc.engine.RunScript(snap, tx.Script, tx.SystemFee)
	if err != nil || result == nil {
		return &ExecutionResult{Faulted: true}
	}
	return result
}

func (bc *Blockchain) writeBlockLocked(snap storage.Snapshot, b *payload.Block) {
	hash := b.Hash()
	snap.Put(storage.BlockKey(hash[:]), encodeBlock(b))
	for _, tx := range b.Transactions {
		th := tx.Hash()
		snap.Put(storage.TransactionKey(th[:]), encodeTransaction(tx))
	}
	snap.Put(storage.HeaderHashListKey(b.Index), hash[:])
	snap.Put(storage.CurrentBlockHashKey(), hash[:])
}

// GetBlock loads a persisted block by hash.
func (bc *Blockchain) GetBlock(hash payload.Hash32) (*payload.Block, error) {
	raw, ok := bc.store.Get(storage.BlockKey(hash[:]))
	if !ok {
		return nil, errs.New(errs.Validation, "block-not-found", nil)
	}
	return decodeBlock(raw)
}

// cacheOrphanLocked stores a structurally-plausible block whose parent is
// not yet known, sweeping the oldest entry first when full
// (spec.md §4.E).
func (bc *Blockchain) cacheOrphanLocked(b *payload.Block) {
	if _, exists := bc.orphans[b.PrevHash]; exists {
		return
	}
	if len(bc.orphans) >= MaxOrphans {
		oldest := bc.orphanOrder[0]
		bc.orphanOrder = bc.orphanOrder[1:]
		delete(bc.orphans, oldest)
	}
	bc.orphans[b.PrevHash] = b
	bc.orphanOrder = append(bc.orphanOrder, b.PrevHash)
}

// resolveOrphansLocked re-attempts any orphan whose parent just landed.
func (bc *Blockchain) resolveOrphansLocked(newTipHash payload.Hash32) {
	child, ok := bc.orphans[newTipHash]
	if !ok {
		return
	}
	delete(bc.orphans, newTipHash)
	for i, h := range bc.orphanOrder {
		if h == newTipHash {
			bc.orphanOrder = append(bc.orphanOrder[:i], bc.orphanOrder[i+1:]...)
			break
		}
	}

	if err := bc.verifyStructuralLocked(child); err != nil {
		return
	}
	if err := bc.verifyWitnessLocked(child, false); err != nil {
		return
	}
	if err := bc.verifyTransactionsLocked(child); err != nil {
		return
	}
	if err := bc.commitLocked(child); err != nil {
		return
	}
	bc.resolveOrphansLocked(child.Hash())
}
