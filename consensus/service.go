package consensus

import (
	"bytes"
	"sync"
	"time"

	"github.com/neo-core/neod/crypto"
	"github.com/neo-core/neod/errs"
	"github.com/neo-core/neod/ledger"
	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/mempool"
	"github.com/neo-core/neod/metrics"
	"github.com/neo-core/neod/payload"
)

// bodyReader wraps a decoded envelope's raw body for one of the message
// body Decode* functions.
func bodyReader(body []byte) *payload.Reader {
	return payload.NewReader(bytes.NewReader(body), 1<<20)
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// nonce is a best-effort distinguisher for PrepareRequest proposals; it
// need not be cryptographically unpredictable, only distinct enough to
// avoid accidental hash collisions between a primary's retried proposals.
func nonce() uint64 { return uint64(time.Now().UnixNano()) }

// Broadcaster is the network plane's seam: Service never imports network
// directly (spec.md §9 no ambient service lookup), it only needs somewhere
// to hand outbound envelopes.
type Broadcaster interface {
	BroadcastConsensus(env *Envelope)
}

// Observer receives on_consensus_phase notifications (spec.md §6).
type Observer interface {
	OnConsensusPhase(height uint32, view uint8, phase string)
}

// Config tunes the Service's timing.
type Config struct {
	BlockTime time.Duration
	Magic     uint32
}

// Service drives one logical consensus task per node (spec.md §5): inbound
// envelopes are processed in arrival order on a single goroutine, matching
// the event-loop shape of the pack's Neo consensus reference.
type Service struct {
	cfg         Config
	validators  *payload.ValidatorSet
	myIndex     int
	signer      *crypto.PrivateKey
	pool        *mempool.Pool
	bc          *ledger.Blockchain
	broadcaster Broadcaster
	observer    Observer
	metrics     *metrics.Metrics
	logger      zapSugared

	mu  sync.Mutex
	ctx *Context

	inbound chan *Envelope
	timer   *time.Timer
	stop    chan struct{}
	done    chan struct{}
}

// zapSugared narrows log.New's return type to the method subset Service
// uses, so this package doesn't have to import zap directly for its field
// type.
type zapSugared interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// New builds a Service for myIndex's validator slot. bc must already be
// bootstrapped (height >= 0).
func New(cfg Config, validators *payload.ValidatorSet, myIndex int, signer *crypto.PrivateKey, pool *mempool.Pool, bc *ledger.Blockchain, broadcaster Broadcaster, observer Observer, m *metrics.Metrics) *Service {
	return &Service{
		cfg:         cfg,
		validators:  validators,
		myIndex:     myIndex,
		signer:      signer,
		pool:        pool,
		bc:          bc,
		broadcaster: broadcaster,
		observer:    observer,
		metrics:     m,
		logger:      log.New("consensus"),
		inbound:     make(chan *Envelope, 256),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start resets the context for the next height and spawns the event loop.
func (s *Service) Start() {
	s.mu.Lock()
	s.ctx = NewContext(s.bc.Height()+1, s.validators, s.myIndex)
	s.mu.Unlock()
	s.resetTimer()
	go s.loop()
	s.mu.Lock()
	if s.ctx.IsPrimary() {
		s.sendPrepareRequestLocked()
	}
	s.mu.Unlock()
}

// Stop ends the event loop and waits for it to exit, per spec.md §5's
// shutdown sequence (stop consensus before the executor).
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// Submit enqueues an inbound envelope, called by the network plane's
// extensible-payload handler. Never blocks indefinitely: the channel is
// bounded and a full channel means this node is irrecoverably behind, so
// the message is dropped and Submit returns false; the network plane's
// handler does not act on the return value.
func (s *Service) Submit(env *Envelope) bool {
	select {
	case s.inbound <- env:
		return true
	default:
		return false
	}
}

// OnBlockPersisted advances to the next height's context, per spec.md §4.G
// Initial phase. Wired as a ledger.Observer by the node aggregate.
func (s *Service) OnBlockPersisted(height uint32, _ payload.Hash32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = NewContext(height+1, s.validators, s.myIndex)
	s.notifyPhaseLocked()
	if s.ctx.IsPrimary() {
		s.sendPrepareRequestLocked()
	}
	s.resetTimerLocked()
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case env := <-s.inbound:
			s.handle(env)
		case <-s.timerC():
			s.onTimeout()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) timerC() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

func (s *Service) resetTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetTimerLocked()
}

func (s *Service) resetTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	d := ViewTimeout(s.cfg.BlockTime, s.ctx.View, s.myIndex)
	s.timer = time.NewTimer(d)
}

func (s *Service) notifyPhaseLocked() {
	if s.observer != nil {
		s.observer.OnConsensusPhase(s.ctx.BlockIndex, s.ctx.View, s.ctx.Phase.String())
	}
	if s.metrics != nil {
		s.metrics.ConsensusPhase.WithLabelValues(s.ctx.Phase.String()).Inc()
	}
}

// onTimeout implements spec.md §4.G View change: a validator unable to
// make progress broadcasts ChangeView(v -> v+1).
func (s *Service) onTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	newView := s.ctx.View + 1
	s.ctx.Phase = PhaseViewChanging
	s.notifyPhaseLocked()
	s.broadcast(MsgChangeView, &ChangeViewBody{
		NewViewNumber: newView,
		Timestamp:     nowMillis(),
		Reason:        0,
	})
	s.ctx.AddChangeView(s.myIndex, newView)
	s.maybeAdvanceViewLocked(newView)
	s.resetTimerLocked()
}

func (s *Service) handle(env *Envelope) {
	if err := s.verifyEnvelope(env); err != nil {
		s.logger.Warnw("dropping consensus envelope", "reason", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if env.BlockIndex != s.ctx.BlockIndex {
		return // stale or far-future height; recovery path handles the gap
	}

	switch env.Type {
	case MsgPrepareRequest:
		s.onPrepareRequestLocked(env)
	case MsgPrepareResponse:
		s.onPrepareResponseLocked(env)
	case MsgCommit:
		s.onCommitLocked(env)
	case MsgChangeView:
		s.onChangeViewLocked(env)
	case MsgRecoveryRequest:
		s.onRecoveryRequestLocked(env)
	case MsgRecoveryMessage:
		s.onRecoveryMessageLocked(env)
	}
}

func (s *Service) verifyEnvelope(env *Envelope) error {
	if int(env.ValidatorIndex) >= s.validators.N() {
		return errs.New(errs.Validation, "bad-validator-index", nil)
	}
	pub := s.validators.Keys[env.ValidatorIndex]
	digest := crypto.Hash256(env.SigningData(s.cfg.Magic))
	if !crypto.Verify(pub, digest[:], env.Signature) {
		return errs.New(errs.Validation, "bad-consensus-signature", nil)
	}
	return nil
}

func (s *Service) onPrepareRequestLocked(env *Envelope) {
	if env.ViewNumber != s.ctx.View || int(env.ValidatorIndex) != s.ctx.Primary() {
		return
	}
	body, err := DecodePrepareRequestBody(bodyReader(env.Body))
	if err != nil {
		return
	}
	if !s.ctx.SetPrepareRequest(int(env.ValidatorIndex), body) {
		return
	}
	s.ctx.Phase = PhaseRequestReceived
	s.notifyPhaseLocked()
	s.ctx.ApplyPendingResponses()

	for _, h := range body.TransactionHashes {
		if tx := s.pool.Get(h); tx != nil {
			s.ctx.TxPayloads[h] = tx
		}
	}
	// Missing transactions are requested via the network plane's inventory
	// path (spec.md §4.G Backup step); this Service only tracks readiness.
	if !s.haveAllTransactionsLocked() {
		return
	}
	s.respondToPrepareRequestLocked()
}

func (s *Service) haveAllTransactionsLocked() bool {
	if s.ctx.PrepareRequest == nil {
		return false
	}
	for _, h := range s.ctx.PrepareRequest.TransactionHashes {
		if _, ok := s.ctx.TxPayloads[h]; !ok {
			return false
		}
	}
	return true
}

// OnTransactionReceived lets the network/mempool plane notify the Service
// that a previously-missing transaction has arrived, completing a pending
// PrepareRequest.
func (s *Service) OnTransactionReceived(tx *payload.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.PrepareRequest == nil {
		return
	}
	h := tx.Hash()
	for _, want := range s.ctx.PrepareRequest.TransactionHashes {
		if want == h {
			s.ctx.TxPayloads[h] = tx
			break
		}
	}
	if s.ctx.Phase == PhaseRequestReceived && s.haveAllTransactionsLocked() {
		s.respondToPrepareRequestLocked()
	}
}

func (s *Service) respondToPrepareRequestLocked() {
	s.broadcast(MsgPrepareResponse, &PrepareResponseBody{PrepareRequestHash: s.ctx.PrepareRequestHash()})
	s.ctx.AddPrepareResponse(s.myIndex, s.ctx.PrepareRequestHash())
	s.ctx.Phase = PhaseResponseSent
	s.notifyPhaseLocked()
	s.maybeCommitLocked()
}

func (s *Service) onPrepareResponseLocked(env *Envelope) {
	body, err := DecodePrepareResponseBody(bodyReader(env.Body))
	if err != nil {
		return
	}
	if env.ViewNumber != s.ctx.View {
		if evicted, evictedView := s.ctx.CacheFutureResponse(env.ViewNumber, int(env.ValidatorIndex), body.PrepareRequestHash); evicted {
			s.logger.Warnw("discarding oldest cached future-view prepare response", "view", evictedView)
		}
		return
	}
	s.ctx.AddPrepareResponse(int(env.ValidatorIndex), body.PrepareRequestHash)
	s.maybeCommitLocked()
}

func (s *Service) maybeCommitLocked() {
	if !s.ctx.HasQuorumResponses() || !s.ctx.CanCommit() {
		return
	}
	digest := crypto.Hash256(s.signingDataForProposalLocked())
	sig, err := s.signer.Sign(digest[:])
	if err != nil {
		s.logger.Errorw("failed signing commit", "error", err.Error())
		return
	}
	s.ctx.MarkCommitted()
	s.ctx.AddCommit(s.myIndex, sig)
	s.broadcast(MsgCommit, &CommitBody{Signature: sig})
	s.ctx.Phase = PhaseCommitSent
	s.notifyPhaseLocked()
	s.maybeFinalizeLocked()
}

// signingDataForProposalLocked is the block's header signing data, built
// from the PrepareRequest fields exactly as AssembleBlock would, so every
// validator signs the identical digest without needing the full tx list
// yet.
func (s *Service) signingDataForProposalLocked() []byte {
	h := payload.Header{
		Version:       0,
		PrevHash:      s.bc.CurrentBlockHash(),
		Timestamp:     s.ctx.Timestamp,
		Nonce:         s.ctx.Nonce,
		Index:         s.ctx.BlockIndex,
		PrimaryIndex:  uint8(s.ctx.Primary()),
		NextConsensus: s.ctx.PrepareRequest.NextConsensus,
	}
	// Merkle root over the proposed transaction hashes directly, since the
	// full transaction bodies may not all be locally known yet at sign time.
	hashes := make([]crypto.Hash32, len(s.ctx.PrepareRequest.TransactionHashes))
	copy(hashes, s.ctx.PrepareRequest.TransactionHashes)
	h.MerkleRoot = crypto.MerkleRoot(hashes)
	return h.SigningData()
}

func (s *Service) onCommitLocked(env *Envelope) {
	if env.ViewNumber != s.ctx.View {
		return
	}
	body, err := DecodeCommitBody(bodyReader(env.Body))
	if err != nil {
		return
	}
	s.ctx.AddCommit(int(env.ValidatorIndex), body.Signature)
	s.maybeFinalizeLocked()
}

// maybeFinalizeLocked implements spec.md §4.G's final step: once M commits
// are collected, assemble the block and hand it to the executor.
func (s *Service) maybeFinalizeLocked() {
	if !s.ctx.HasQuorumCommits() || s.ctx.PrepareRequest == nil || !s.haveAllTransactionsLocked() {
		return
	}
	block := s.ctx.AssembleBlock(s.bc.CurrentBlockHash(), s.ctx.PrepareRequest.NextConsensus)
	if err := s.bc.AddBlock(block, true); err != nil {
		s.logger.Errorw("local block assembly rejected by executor", "error", err.Error())
		return
	}
	s.ctx.Phase = PhaseBlockSent
	s.notifyPhaseLocked()
	// The new block itself is announced as a regular `block` inventory
	// message once ledger.Blockchain fires OnBlockPersisted; that framing
	// belongs to the network plane, not this Service.
}

func (s *Service) onChangeViewLocked(env *Envelope) {
	body, err := DecodeChangeViewBody(bodyReader(env.Body))
	if err != nil {
		return
	}
	s.ctx.AddChangeView(int(env.ValidatorIndex), body.NewViewNumber)
	s.maybeAdvanceViewLocked(body.NewViewNumber)
}

// maybeAdvanceViewLocked implements spec.md §4.G: on >= M ChangeView
// requests for the same target view, every validator advances and restarts
// from the Primary step.
func (s *Service) maybeAdvanceViewLocked(targetView uint8) {
	if !s.ctx.HasQuorumChangeView(targetView) {
		return
	}
	committed := s.ctx.committedView
	height := s.ctx.BlockIndex
	prior := s.ctx
	s.ctx = NewContext(height, s.validators, s.myIndex)
	s.ctx.resetView(targetView)
	s.ctx.committedView = committed
	s.ctx.carryPendingResponses(prior)
	s.notifyPhaseLocked()
	s.resetTimerLocked()
	if s.ctx.IsPrimary() {
		s.sendPrepareRequestLocked()
	}
}

// sendPrepareRequestLocked implements spec.md §4.G Primary step: select
// transactions from the pool, fill the proposal fields, broadcast.
func (s *Service) sendPrepareRequestLocked() {
	txs := s.pool.GetSorted(payload.MaxTransactionsPerBlock, 1<<20, 1<<62)
	hashes := make([]payload.Hash32, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		hashes[i] = h
		s.ctx.TxPayloads[h] = tx
	}

	body := &PrepareRequestBody{
		Timestamp:         nowMillis(),
		Nonce:             nonce(),
		NextConsensus:     s.validators.ScriptHash(),
		TransactionHashes: hashes,
	}
	s.ctx.SetPrepareRequest(s.myIndex, body)
	s.ctx.Phase = PhaseRequestSent
	s.notifyPhaseLocked()
	s.broadcast(MsgPrepareRequest, body)

	// The primary immediately counts as endorsing its own proposal.
	s.ctx.AddPrepareResponse(s.myIndex, s.ctx.PrepareRequestHash())
	s.ctx.ApplyPendingResponses()
}

func (s *Service) onRecoveryRequestLocked(env *Envelope) {
	if s.ctx.Phase == PhaseInitial {
		return // nothing useful to share yet
	}
	msg := s.buildRecoveryMessageLocked()
	s.broadcast(MsgRecoveryMessage, msg)
}

func (s *Service) buildRecoveryMessageLocked() *RecoveryMessageBody {
	msg := &RecoveryMessageBody{}
	for idx, v := range s.ctx.changeViews {
		msg.ChangeViews = append(msg.ChangeViews, ChangeViewEntry{
			ValidatorIndex: uint8(idx),
			Body:           ChangeViewBody{NewViewNumber: v},
		})
	}
	if s.ctx.PrepareRequest != nil {
		msg.PrepareRequest = &PrepareRequestEntry{
			ValidatorIndex: uint8(s.ctx.prepareRequestSender),
			Body:           *s.ctx.PrepareRequest,
		}
	}
	for idx := range s.ctx.prepareResponses {
		msg.PrepareResponses = append(msg.PrepareResponses, PrepareResponseEntry{
			ValidatorIndex: uint8(idx),
			Body:           PrepareResponseBody{PrepareRequestHash: s.ctx.PrepareRequestHash()},
		})
	}
	for idx, sig := range s.ctx.commits {
		msg.Commits = append(msg.Commits, CommitEntry{
			ValidatorIndex: uint8(idx),
			Body:           CommitBody{Signature: sig},
		})
	}
	return msg
}

// onRecoveryMessageLocked implements spec.md §4.G Recovery: rebuild local
// context by applying every bundled message as if it had arrived
// individually.
func (s *Service) onRecoveryMessageLocked(env *Envelope) {
	msg, err := DecodeRecoveryMessageBody(bodyReader(env.Body))
	if err != nil {
		return
	}
	for _, cv := range msg.ChangeViews {
		s.ctx.AddChangeView(int(cv.ValidatorIndex), cv.Body.NewViewNumber)
	}
	if msg.PrepareRequest != nil && s.ctx.PrepareRequest == nil {
		s.ctx.SetPrepareRequest(int(msg.PrepareRequest.ValidatorIndex), &msg.PrepareRequest.Body)
	}
	for _, pr := range msg.PrepareResponses {
		s.ctx.AddPrepareResponse(int(pr.ValidatorIndex), pr.Body.PrepareRequestHash)
	}
	for _, c := range msg.Commits {
		s.ctx.AddCommit(int(c.ValidatorIndex), c.Body.Signature)
	}
	s.maybeCommitLocked()
	s.maybeFinalizeLocked()
}

func (s *Service) broadcast(t MessageType, body interface{ Encode(*payload.Writer) }) {
	if s.broadcaster == nil {
		return
	}
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	body.Encode(bw)

	env := &Envelope{
		BlockIndex:     s.ctx.BlockIndex,
		ValidatorIndex: uint8(s.myIndex),
		ViewNumber:     s.ctx.View,
		Type:           t,
		Body:           buf.Bytes(),
	}
	digest := crypto.Hash256(env.SigningData(s.cfg.Magic))
	sig, err := s.signer.Sign(digest[:])
	if err != nil {
		s.logger.Errorw("failed signing outbound envelope", "error", err.Error())
		return
	}
	env.Signature = sig
	s.broadcaster.BroadcastConsensus(env)
}
