// Package peer manages one P2P connection's lifecycle: framed send/receive
// loops, inventory-relay deduplication, misbehaviour scoring and backpressure
// disconnection. Modeled on the teacher's connection handling in
// netadapter.go (registerConnection/startReceiveLoop/startSendLoop, the
// spawn-a-goroutine-per-direction pattern) and on
// infrastructure/network/addressmanager for the peer-identity key shape.
package peer

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/network/wire"
	"github.com/neo-core/neod/payload"
)

// knownHashCacheSize bounds each peer's inventory-dedup cache.
const knownHashCacheSize = 10000

// MisbehaviorThreshold is the accumulated score past which a peer is
// disconnected (spec.md §4.F backpressure/scoring). No ban or cooldown is
// recorded for its address.
const MisbehaviorThreshold = 100

// Misbehavior weights for common violations, scaled so a handful of protocol
// errors trips the threshold but one stray oversize frame doesn't.
const (
	MisbehaviorMalformedMessage = 20
	MisbehaviorUnsolicited      = 5
	MisbehaviorInvalidWitness   = 50
	MisbehaviorDuplicateVersion = 10
)

// Capabilities summarizes a peer's advertised, handshake-verified abilities.
type Capabilities struct {
	TCPPort            uint16
	StartHeight        uint32
	FullNode           bool
	DisableCompression bool
}

// Handler processes a decoded frame from a Peer. Implementations must not
// block past what backpressure on their own output allows; the network
// server is the intended implementation, dispatching by command into
// inventory relay, sync, or the consensus bridge.
type Handler interface {
	HandleFrame(p *Peer, f *wire.Frame) error
	HandleDisconnect(p *Peer)
}

// Peer wraps one established TCP connection to another node.
type Peer struct {
	conn     net.Conn
	Outbound bool
	Address  string // remote addr, used as the peer's map key

	logger zapSugared

	sendQueue chan *wire.Frame
	known     *lru.Cache

	handler Handler

	misbehavior int32 // atomic

	mu            sync.Mutex
	version       *wire.VersionPayload
	caps          Capabilities
	handshakeDone bool
	lastPingNonce uint32
	lastPingSent  time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

type zapSugared interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// New wraps conn as a Peer. maxSendQueue bounds the outbound frame queue;
// once full, Send drops the connection rather than blocking the writer
// loop (spec.md §4.F backpressure).
func New(conn net.Conn, outbound bool, maxSendQueue int, handler Handler) *Peer {
	known, _ := lru.New(knownHashCacheSize)
	p := &Peer{
		conn:      conn,
		Outbound:  outbound,
		Address:   conn.RemoteAddr().String(),
		logger:    log.New("network"),
		sendQueue: make(chan *wire.Frame, maxSendQueue),
		known:     known,
		handler:   handler,
		closed:    make(chan struct{}),
	}
	return p
}

// Start spawns the receive and send loops. Callers must call Start exactly
// once, immediately after a successful version/verack handshake or while
// driving one.
func (p *Peer) Start() {
	go p.receiveLoop()
	go p.sendLoop()
}

// receiveLoop decodes frames until the connection errs or Close is called,
// handing each to the Handler.
func (p *Peer) receiveLoop() {
	defer p.Close()
	br := payload.NewReader(p.conn, 0)
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		frame, err := wire.DecodeFrame(br)
		if err != nil {
			if err != io.EOF {
				p.logger.Warnw("peer decode error", "peer", p.Address, "err", err)
			}
			return
		}
		if err := p.handler.HandleFrame(p, frame); err != nil {
			p.Misbehave(MisbehaviorMalformedMessage, "handler-error")
		}
	}
}

// sendLoop drains the outbound queue to the wire until Close.
func (p *Peer) sendLoop() {
	for {
		select {
		case <-p.closed:
			return
		case f := <-p.sendQueue:
			bw := payload.NewWriter(p.conn)
			f.Encode(bw)
			if err := bw.Err(); err != nil {
				p.logger.Warnw("peer write error", "peer", p.Address, "err", err)
				p.Close()
				return
			}
		}
	}
}

// Send encodes and enqueues a command payload for delivery. Returns false
// (and disconnects) if the peer's send queue is full — a slow or stalled
// peer must not be allowed to back up the whole node.
func (p *Peer) Send(cmd wire.Command, body interface{ Encode(*payload.Writer) }) bool {
	raw := encodeBody(body)
	frame := wire.NewFrame(cmd, raw)
	select {
	case p.sendQueue <- frame:
		return true
	default:
		p.logger.Warnw("peer send queue full, disconnecting", "peer", p.Address)
		p.Close()
		return false
	}
}

func encodeBody(body interface{ Encode(*payload.Writer) }) []byte {
	var buf bytes.Buffer
	body.Encode(payload.NewWriter(&buf))
	return buf.Bytes()
}

// KnownHash reports whether hash has already been seen from or sent to this
// peer, so inventory relay doesn't re-announce it.
func (p *Peer) KnownHash(hash payload.Hash32) bool {
	return p.known.Contains(hash)
}

// MarkKnown records hash as seen by this peer.
func (p *Peer) MarkKnown(hash payload.Hash32) {
	p.known.Add(hash, struct{}{})
}

// Misbehave accumulates a violation score; crossing MisbehaviorThreshold
// disconnects the peer.
func (p *Peer) Misbehave(weight int32, reason string) {
	total := atomic.AddInt32(&p.misbehavior, weight)
	p.logger.Warnw("peer misbehavior", "peer", p.Address, "reason", reason, "score", total)
	if total >= MisbehaviorThreshold {
		p.logger.Warnw("peer exceeded misbehavior threshold, disconnecting", "peer", p.Address)
		p.Close()
	}
}

// CompleteHandshake records the peer's Version payload and marks the
// handshake done. The server calls it as soon as a Version with matching
// magic arrives; it does not wait for a verack.
func (p *Peer) CompleteHandshake(v *wire.VersionPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = v
	p.handshakeDone = true
	p.caps = Capabilities{
		FullNode:           v.HasCapability(wire.CapFullNode),
		DisableCompression: v.HasCapability(wire.CapDisableCompression),
	}
	for _, c := range v.Capabilities {
		switch c.Type {
		case wire.CapTcpServer:
			p.caps.TCPPort = c.TCPPort
		case wire.CapFullNode:
			p.caps.StartHeight = c.StartHeight
		}
	}
}

// Handshaked reports whether CompleteHandshake has run, i.e. whether a
// Version with matching magic has been received; verack is not tracked.
func (p *Peer) Handshaked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshakeDone
}

// Version returns the peer's handshake Version payload, or nil before
// CompleteHandshake.
func (p *Peer) Version() *wire.VersionPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// StartHeight returns the peer's advertised chain height at handshake time.
func (p *Peer) StartHeight() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps.StartHeight
}

// RecordPing stashes the nonce of an outstanding ping so Pong can be
// matched and round-trip latency measured.
func (p *Peer) RecordPing(nonce uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPingNonce = nonce
	p.lastPingSent = time.Now()
}

// VerifyPong reports whether nonce matches the last recorded ping and
// returns the observed round-trip latency.
func (p *Peer) VerifyPong(nonce uint32) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nonce != p.lastPingNonce {
		return 0, false
	}
	return time.Since(p.lastPingSent), true
}

// Close shuts the connection down and notifies the handler exactly once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
		if p.handler != nil {
			p.handler.HandleDisconnect(p)
		}
	})
}
