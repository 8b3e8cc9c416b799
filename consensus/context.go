package consensus

import (
	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/payload"
)

// Phase is a position in the per-height state machine of spec.md §3
// Consensus context.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseRequestSent
	PhaseRequestReceived
	PhaseResponseSent
	PhaseCommitSent
	PhaseBlockSent
	PhaseViewChanging
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "Initial"
	case PhaseRequestSent:
		return "RequestSent"
	case PhaseRequestReceived:
		return "RequestReceived"
	case PhaseResponseSent:
		return "ResponseSent"
	case PhaseCommitSent:
		return "CommitSent"
	case PhaseBlockSent:
		return "BlockSent"
	case PhaseViewChanging:
		return "ViewChanging"
	default:
		return "Unknown"
	}
}

// Context is the per-height dBFT state machine of spec.md §3. One Context
// lives for the duration of a single block height, reset on
// block_persisted and advanced (its View bumped) on timeout.
type Context struct {
	BlockIndex uint32
	View       uint8
	Validators *payload.ValidatorSet
	MyIndex    int
	Phase      Phase

	Timestamp uint64
	Nonce     uint64

	PrepareRequest       *PrepareRequestBody
	prepareRequestSender int
	prepareRequestHash   payload.Hash32

	TxPayloads map[payload.Hash32]*payload.Transaction

	prepareResponses map[int]payload.Hash32 // validator index -> endorsed PrepareRequest hash
	commits          map[int][]byte         // validator index -> 64-byte signature
	changeViews      map[int]uint8          // validator index -> requested new view

	// committedView guards the safety invariant of spec.md §4.G: this
	// validator must never sign two different Commits at the same
	// (BlockIndex, view). -1 means no local commit yet this height.
	committedView int

	// pendingFutureResponses holds PrepareResponse messages that arrived
	// for a view ahead of the current one — a validator that has already
	// moved on sends these while peers are still catching up. Retained so
	// a subsequent ChangeView doesn't throw away real progress, bounded per
	// spec.md §9 (oldest discarded first, logged by the caller).
	pendingFutureResponses []pendingResponse
}

// pendingResponse is one cached out-of-view PrepareResponse.
type pendingResponse struct {
	view         uint8
	validatorIdx int
	prepareHash  payload.Hash32
}

// MaxPendingFutureResponses bounds the future-view PrepareResponse cache
// (spec.md §9 Open Question: resolved at 100 entries).
const MaxPendingFutureResponses = 100

// NewContext creates a fresh Context for blockIndex, view 0.
func NewContext(blockIndex uint32, validators *payload.ValidatorSet, myIndex int) *Context {
	c := &Context{
		BlockIndex:    blockIndex,
		Validators:    validators,
		MyIndex:       myIndex,
		committedView: -1,
	}
	c.resetView(0)
	return c
}

// resetView clears per-view collections without touching the committed-view
// guard, which must survive a view bump (spec.md §4.G Safety: a Commit at
// view v is never retracted).
func (c *Context) resetView(view uint8) {
	c.View = view
	c.Phase = PhaseInitial
	c.PrepareRequest = nil
	c.prepareRequestSender = -1
	c.prepareRequestHash = payload.Hash32{}
	c.TxPayloads = make(map[payload.Hash32]*payload.Transaction)
	c.prepareResponses = make(map[int]payload.Hash32)
	c.commits = make(map[int][]byte)
	c.changeViews = make(map[int]uint8)
}

// Primary returns the validator index proposing at the current view.
func (c *Context) Primary() int {
	return c.Validators.PrimaryIndex(c.BlockIndex, c.View)
}

// IsPrimary reports whether the local validator is the current primary.
func (c *Context) IsPrimary() bool { return c.Primary() == c.MyIndex }

// Quorum is the number of matching messages required to proceed (M).
func (c *Context) Quorum() int { return c.Validators.M() }

// SetPrepareRequest installs the primary's proposal for the current view.
// Returns false if one is already set (a second PrepareRequest at the same
// view is either a duplicate or byzantine behaviour, ignored either way).
func (c *Context) SetPrepareRequest(senderIdx int, body *PrepareRequestBody) bool {
	if c.PrepareRequest != nil {
		return false
	}
	c.PrepareRequest = body
	c.prepareRequestSender = senderIdx
	c.prepareRequestHash = body.Hash()
	c.Timestamp = body.Timestamp
	c.Nonce = body.Nonce
	return true
}

// PrepareRequestHash returns the hash of the installed PrepareRequest, or
// the zero hash if none has arrived yet.
func (c *Context) PrepareRequestHash() payload.Hash32 { return c.prepareRequestHash }

// AddPrepareResponse records validatorIdx's endorsement of reqHash.
// Mismatched responses (wrong PrepareRequest hash) are discarded per
// spec.md §4.G Safety.
func (c *Context) AddPrepareResponse(validatorIdx int, reqHash payload.Hash32) {
	if c.PrepareRequest == nil || reqHash != c.prepareRequestHash {
		return
	}
	c.prepareResponses[validatorIdx] = reqHash
}

// HasQuorumResponses reports whether, with a PrepareRequest installed, at
// least M-1 *other* validators have endorsed it — spec.md §4.G's trigger
// for broadcasting Commit (the primary/self's agreement is implicit in
// having the request).
func (c *Context) HasQuorumResponses() bool {
	if c.PrepareRequest == nil {
		return false
	}
	count := 0
	for idx := range c.prepareResponses {
		if idx != c.prepareRequestSender {
			count++
		}
	}
	return count >= c.Quorum()-1
}

// AddCommit records validatorIdx's commit signature.
func (c *Context) AddCommit(validatorIdx int, sig []byte) {
	c.commits[validatorIdx] = sig
}

// HasQuorumCommits reports whether at least M distinct validators have
// committed.
func (c *Context) HasQuorumCommits() bool { return len(c.commits) >= c.Quorum() }

// Commits returns the accumulated validator-index -> signature map.
func (c *Context) Commits() map[int][]byte { return c.commits }

// CanCommit reports whether the local validator may broadcast a Commit at
// the current (BlockIndex, View) without violating the no-double-commit
// safety invariant.
func (c *Context) CanCommit() bool { return c.committedView != int(c.View) }

// MarkCommitted records that the local validator has now committed at the
// current view, persisted before the Commit message is actually sent.
func (c *Context) MarkCommitted() { c.committedView = int(c.View) }

// AddChangeView records validatorIdx's request to move to newView.
func (c *Context) AddChangeView(validatorIdx int, newView uint8) {
	c.changeViews[validatorIdx] = newView
}

// HasQuorumChangeView reports whether at least M validators (including any
// local request already recorded) have requested targetView.
func (c *Context) HasQuorumChangeView(targetView uint8) bool {
	count := 0
	for _, v := range c.changeViews {
		if v == targetView {
			count++
		}
	}
	return count >= c.Quorum()
}

// CacheFutureResponse records a PrepareResponse for a view the local
// validator hasn't reached yet. Returns true and the discarded entry's
// view when the cache was full and the oldest entry was evicted to make
// room, so the caller can log it.
func (c *Context) CacheFutureResponse(view uint8, validatorIdx int, prepareHash payload.Hash32) (evicted bool, evictedView uint8) {
	if len(c.pendingFutureResponses) >= MaxPendingFutureResponses {
		evictedView = c.pendingFutureResponses[0].view
		c.pendingFutureResponses = c.pendingFutureResponses[1:]
		evicted = true
	}
	c.pendingFutureResponses = append(c.pendingFutureResponses, pendingResponse{
		view: view, validatorIdx: validatorIdx, prepareHash: prepareHash,
	})
	return evicted, evictedView
}

// ApplyPendingResponses replays any cached responses matching the current
// view against an installed PrepareRequest, consuming them from the cache.
// Entries for views other than the current one (already advanced past, or
// still ahead) are kept for a later call.
func (c *Context) ApplyPendingResponses() {
	if c.PrepareRequest == nil {
		return
	}
	remaining := c.pendingFutureResponses[:0]
	for _, p := range c.pendingFutureResponses {
		if p.view == c.View {
			c.AddPrepareResponse(p.validatorIdx, p.prepareHash)
			continue
		}
		remaining = append(remaining, p)
	}
	c.pendingFutureResponses = remaining
}

// carryPendingResponses transfers unresolved future-view entries from a
// prior Context into this one, across a view bump.
func (c *Context) carryPendingResponses(from *Context) {
	c.pendingFutureResponses = from.pendingFutureResponses
}

// AssembleBlock builds the header for the agreed-upon proposal once quorum
// commits are collected, combining them into the multisig witness. Callers
// must only call this after HasQuorumCommits().
func (c *Context) AssembleBlock(prevHash payload.Hash32, prevNextConsensus payload.Hash20) *payload.Block {
	txs := make([]*payload.Transaction, len(c.PrepareRequest.TransactionHashes))
	for i, h := range c.PrepareRequest.TransactionHashes {
		txs[i] = c.TxPayloads[h]
	}

	h := payload.Header{
		Version:       0,
		PrevHash:      prevHash,
		Timestamp:     c.Timestamp,
		Nonce:         c.Nonce,
		Index:         c.BlockIndex,
		PrimaryIndex:  uint8(c.Primary()),
		NextConsensus: c.PrepareRequest.NextConsensus,
	}
	b := &payload.Block{Header: h, Transactions: txs}
	b.MerkleRoot = b.ComputeMerkleRoot()
	b.Witness = c.buildCommitWitness()
	return b
}

// buildCommitWitness assembles the m-of-n multisig witness over the
// collected commit signatures, in validator order, so a verifier rebuilding
// the same multisig verification script sees signatures in the order its
// pubkeys appear.
func (c *Context) buildCommitWitness() payload.Witness {
	var sigs [][]byte
	var pubsInOrder []*crypto.PublicKey
	for idx := 0; idx < c.Validators.N(); idx++ {
		if sig, ok := c.commits[idx]; ok {
			sigs = append(sigs, sig)
			pubsInOrder = append(pubsInOrder, c.Validators.Keys[idx])
		}
	}
	return payload.Witness{
		InvocationScript:   payload.BuildMultiSigInvocationScript(sigs),
		VerificationScript: c.Validators.VerificationScript(),
	}
}
