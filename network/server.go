// Package network is the P2P message plane of spec.md §4.F: it owns every
// live connection, translates between wire.Frame bytes and the
// ledger/mempool/consensus domain, and is the sole concrete implementation
// of consensus.Broadcaster. Styled on the teacher's netadapter.go (one
// adapter object fronting every connection, dispatch-by-command into
// domain handlers) generalized from gRPC streams to this core's own framed
// TCP protocol.
package network

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/neo-core/neod/config"
	"github.com/neo-core/neod/consensus"
	"github.com/neo-core/neod/ledger"
	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/mempool"
	"github.com/neo-core/neod/metrics"
	"github.com/neo-core/neod/network/addrmgr"
	"github.com/neo-core/neod/network/connmgr"
	"github.com/neo-core/neod/network/peer"
	"github.com/neo-core/neod/network/wire"
	"github.com/neo-core/neod/payload"
)

// dBFTCategory is the extensible payload category this core's consensus
// messages are tagged with (spec.md §6).
const dBFTCategory = "dBFT"

// ProtocolVersion is this core's own wire protocol version, advertised in
// the handshake and nothing else; it is independent of NetworkMagic.
const ProtocolVersion = 0

// UserAgent identifies this implementation in the handshake, the way the
// teacher's netadapter advertises a user agent string.
const UserAgent = "/neod:0.1.0/"

// zapSugared narrows log.New's return type to what Server needs.
type zapSugared interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// Server is the node aggregate's network plane: it owns the listener,
// every Peer, the address book and the outbound connection manager, and
// bridges inbound wire traffic into the ledger/mempool/consensus domain.
type Server struct {
	cfg     config.ProtocolConfig
	nonce   uint64
	logger  zapSugared

	bc        *ledger.Blockchain
	pool      *mempool.Pool
	consensus *consensus.Service // set once via SetConsensus, before Start
	m         *metrics.Metrics

	addrs   *addrmgr.Manager
	conns   *connmgr.Manager

	mu    sync.RWMutex
	peers map[string]*peer.Peer

	listener net.Listener
	stop     chan struct{}
}

// New builds a Server; SetConsensus must be called before Start if this
// node participates in consensus (a pure relay node may omit it).
func New(cfg config.ProtocolConfig, bc *ledger.Blockchain, pool *mempool.Pool, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:    cfg,
		nonce:  rand.New(rand.NewSource(time.Now().UnixNano())).Uint64(),
		logger: log.New("network"),
		bc:     bc,
		pool:   pool,
		m:      m,
		addrs:  addrmgr.New(24 * time.Hour),
		peers:  make(map[string]*peer.Peer),
		stop:   make(chan struct{}),
	}
	s.conns = connmgr.New(connmgr.Config{
		TargetOutbound: cfg.MaxPeers,
		RetryDelay:     30 * time.Second,
		DialTimeout:    10 * time.Second,
	}, s.addrs, s, cfg.SeedList)
	return s
}

// SetConsensus wires the consensus service this Server relays Envelopes
// for. Must be called before Start.
func (s *Server) SetConsensus(c *consensus.Service) { s.consensus = c }

// Start binds the listener, begins accepting inbound connections and starts
// the outbound connection manager.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.P2PBindAddress)
	if err != nil {
		return err
	}
	s.listener = ln
	go s.acceptLoop()
	s.conns.Start(ctx)
	return nil
}

// Stop closes the listener and every live peer connection.
func (s *Server) Stop() {
	close(s.stop)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Stop()

	s.mu.RLock()
	peers := make([]*peer.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		p.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.logger.Warnw("accept failed", "err", err)
				return
			}
		}
		s.OnConnected(conn, false)
		s.conns.RegisterInbound(conn.RemoteAddr().String(), conn)
	}
}

// Dial implements connmgr.Dialer, opening a raw TCP connection for connmgr
// to hand back via OnConnected.
func (s *Server) Dial(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", address)
}

// OnConnected implements connmgr.Dialer: wraps conn as a Peer, registers it
// and drives the version/verack handshake.
func (s *Server) OnConnected(conn net.Conn, outbound bool) {
	p := peer.New(conn, outbound, s.cfg.MaxPeerSendQueue, s)

	s.mu.Lock()
	if len(s.peers) >= s.cfg.MaxPeers {
		s.mu.Unlock()
		p.Close()
		return
	}
	s.peers[p.Address] = p
	s.mu.Unlock()

	p.Start()
	s.sendVersion(p)
}

// OnDisconnected implements connmgr.Dialer.
func (s *Server) OnDisconnected(address string) {}

// HandleDisconnect implements peer.Handler.
func (s *Server) HandleDisconnect(p *peer.Peer) {
	s.mu.Lock()
	delete(s.peers, p.Address)
	count := len(s.peers)
	s.mu.Unlock()
	if s.m != nil {
		s.m.PeerCount.Set(float64(count))
	}
	s.conns.NotifyDisconnected(p.Address)
}

func (s *Server) sendVersion(p *peer.Peer) {
	v := &wire.VersionPayload{
		Magic:     s.cfg.NetworkMagic,
		Version:   ProtocolVersion,
		Timestamp: uint64(time.Now().Unix()),
		Nonce:     s.nonce,
		UserAgent: UserAgent,
		Capabilities: []wire.Capability{
			{Type: wire.CapFullNode, StartHeight: s.bc.Height()},
		},
	}
	p.Send(wire.CmdVersion, v)
}

// HandleFrame implements peer.Handler: dispatch by command into the domain.
func (s *Server) HandleFrame(p *peer.Peer, f *wire.Frame) error {
	raw, err := f.Decoded()
	if err != nil {
		return err
	}
	br := bodyReader(raw)

	switch f.Command {
	case wire.CmdVersion:
		return s.handleVersion(p, br)
	case wire.CmdVerAck:
		return s.handleVerAck(p)
	case wire.CmdPing:
		return s.handlePing(p, br)
	case wire.CmdPong:
		return s.handlePong(p, br)
	case wire.CmdGetAddr:
		return s.handleGetAddr(p)
	case wire.CmdAddr:
		return s.handleAddr(p, br)
	case wire.CmdInv:
		return s.handleInv(p, br)
	case wire.CmdGetData:
		return s.handleGetData(p, br)
	case wire.CmdNotFound:
		return nil // nothing pending relies on this core's own sync bookkeeping yet
	case wire.CmdTx:
		return s.handleTx(p, br)
	case wire.CmdBlock:
		return s.handleBlock(p, br)
	case wire.CmdGetHeaders:
		return s.handleGetHeaders(p, br)
	case wire.CmdHeaders:
		return nil // header-first sync is left to a future block-body fetch pass
	case wire.CmdGetBlockByIndex:
		return s.handleGetBlockByIndex(p, br)
	case wire.CmdMempool:
		return s.handleMempool(p)
	case wire.CmdExtensible:
		return s.handleExtensible(p, br)
	case wire.CmdReject:
		return nil
	default:
		p.Misbehave(peer.MisbehaviorUnsolicited, "unknown-command")
		return nil
	}
}

func bodyReader(body []byte) *payload.Reader {
	return payload.NewReader(bytes.NewReader(body), 1<<22)
}

func (s *Server) handleVersion(p *peer.Peer, br *payload.Reader) error {
	if p.Handshaked() {
		p.Misbehave(peer.MisbehaviorDuplicateVersion, "duplicate-version")
		return nil
	}
	v, err := wire.DecodeVersionPayload(br)
	if err != nil {
		return err
	}
	if v.Magic != s.cfg.NetworkMagic {
		p.Close()
		return nil
	}
	p.CompleteHandshake(v)
	p.Send(wire.CmdVerAck, &wire.VerAckPayload{})
	if !p.Outbound {
		s.sendVersion(p)
	}
	return nil
}

func (s *Server) handleVerAck(p *peer.Peer) error {
	p.Send(wire.CmdGetAddr, &wire.GetAddrPayload{})
	return nil
}

func (s *Server) handlePing(p *peer.Peer, br *payload.Reader) error {
	ping, err := wire.DecodePingPayload(br)
	if err != nil {
		return err
	}
	p.Send(wire.CmdPong, &wire.PongPayload{LastBlockIndex: s.bc.Height(), Nonce: ping.Nonce})
	return nil
}

func (s *Server) handlePong(p *peer.Peer, br *payload.Reader) error {
	pong, err := wire.DecodePongPayload(br)
	if err != nil {
		return err
	}
	p.VerifyPong(pong.Nonce)
	return nil
}

func (s *Server) handleGetAddr(p *peer.Peer) error {
	known := s.addrs.Addresses()
	if len(known) > wire.MaxAddressesPerMessage {
		known = known[:wire.MaxAddressesPerMessage]
	}
	out := make([]wire.NetAddress, len(known))
	for i, a := range known {
		out[i] = toNetAddress(a)
	}
	p.Send(wire.CmdAddr, &wire.AddrPayload{Addresses: out})
	return nil
}

func (s *Server) handleAddr(p *peer.Peer, br *payload.Reader) error {
	a, err := wire.DecodeAddrPayload(br)
	if err != nil {
		return err
	}
	for _, na := range a.Addresses {
		ip := netAddressIP(na)
		s.addrs.AddAddress(ip, na.Port)
	}
	return nil
}

func toNetAddress(a addrmgr.Address) wire.NetAddress {
	var na wire.NetAddress
	copy(na.Address[:], a.IP.To16())
	na.Port = a.Port
	na.Timestamp = uint32(a.LastSeen.Unix())
	return na
}

func netAddressIP(na wire.NetAddress) net.IP {
	return net.IP(append([]byte{}, na.Address[:]...))
}

func (s *Server) handleInv(p *peer.Peer, br *payload.Reader) error {
	inv, err := wire.DecodeInvPayload(br)
	if err != nil {
		return err
	}
	var want []payload.Hash32
	for _, h := range inv.Hashes {
		p.MarkKnown(h)
		switch inv.Type {
		case wire.InvTypeTx:
			if !s.pool.Contains(h) {
				want = append(want, h)
			}
		case wire.InvTypeBlock:
			if _, err := s.bc.GetBlock(h); err != nil {
				want = append(want, h)
			}
		}
	}
	if len(want) > 0 {
		p.Send(wire.CmdGetData, &wire.GetDataPayload{Type: inv.Type, Hashes: want})
	}
	return nil
}

func (s *Server) handleGetData(p *peer.Peer, br *payload.Reader) error {
	inv, err := wire.DecodeInvPayload(br)
	if err != nil {
		return err
	}
	var missing []payload.Hash32
	for _, h := range inv.Hashes {
		switch inv.Type {
		case wire.InvTypeTx:
			if tx := s.pool.Get(h); tx != nil {
				p.Send(wire.CmdTx, &wire.TxPayload{Transaction: tx})
				continue
			}
			missing = append(missing, h)
		case wire.InvTypeBlock:
			b, err := s.bc.GetBlock(h)
			if err != nil {
				missing = append(missing, h)
				continue
			}
			p.Send(wire.CmdBlock, &wire.BlockPayload{Block: b})
		}
	}
	if len(missing) > 0 {
		p.Send(wire.CmdNotFound, &wire.NotFoundPayload{Type: inv.Type, Hashes: missing})
	}
	return nil
}

func (s *Server) handleTx(p *peer.Peer, br *payload.Reader) error {
	txp, err := wire.DecodeTxPayload(br)
	if err != nil {
		return err
	}
	tx := txp.Transaction
	p.MarkKnown(tx.Hash())
	if err := s.pool.TryAdd(tx); err != nil {
		return nil // rejected transactions aren't a protocol violation
	}
	if s.consensus != nil {
		s.consensus.OnTransactionReceived(tx)
	}
	s.relayInv(wire.InvTypeTx, tx.Hash(), p)
	return nil
}

func (s *Server) handleBlock(p *peer.Peer, br *payload.Reader) error {
	bp, err := wire.DecodeBlockPayload(br)
	if err != nil {
		return err
	}
	p.MarkKnown(bp.Block.Hash())
	if err := s.bc.AddBlock(bp.Block, false); err != nil {
		return nil // invalid/orphan blocks are handled by ledger, not a peer fault here
	}
	s.relayInv(wire.InvTypeBlock, bp.Block.Hash(), p)
	return nil
}

func (s *Server) handleGetHeaders(p *peer.Peer, br *payload.Reader) error {
	_, err := wire.DecodeGetHeadersPayload(br)
	if err != nil {
		return err
	}
	// Header-only storage isn't retained separately from full blocks in
	// this core (spec.md §4.A keeps one block record per height), so this
	// core answers headers requests empty; full nodes sync via
	// getblockbyindex instead.
	p.Send(wire.CmdHeaders, &wire.HeadersPayload{})
	return nil
}

func (s *Server) handleGetBlockByIndex(p *peer.Peer, br *payload.Reader) error {
	req, err := wire.DecodeGetBlockByIndexPayload(br)
	if err != nil {
		return err
	}
	count := int(req.Count)
	if count > s.cfg.BlockRequestWindow {
		count = s.cfg.BlockRequestWindow
	}
	for i := 0; i < count; i++ {
		height := req.IndexStart + uint32(i)
		if height > s.bc.Height() {
			break
		}
		hash, ok := s.bc.BlockHashAtHeight(height)
		if !ok {
			break
		}
		b, err := s.bc.GetBlock(hash)
		if err != nil {
			break
		}
		p.Send(wire.CmdBlock, &wire.BlockPayload{Block: b})
	}
	return nil
}

func (s *Server) handleMempool(p *peer.Peer) error {
	all := s.pool.GetSorted(wire.MaxInvHashes, math.MaxInt32, math.MaxInt64)
	out := make([]payload.Hash32, 0, len(all))
	for _, tx := range all {
		out = append(out, tx.Hash())
	}
	if len(out) > 0 {
		p.Send(wire.CmdInv, &wire.InvPayload{Type: wire.InvTypeTx, Hashes: out})
	}
	return nil
}

func (s *Server) handleExtensible(p *peer.Peer, br *payload.Reader) error {
	ep, err := wire.DecodeExtensiblePayload(br)
	if err != nil {
		return err
	}
	if ep.Category != dBFTCategory {
		return nil
	}
	height := s.bc.Height()
	if height < ep.ValidBlockStart || (ep.ValidBlockEnd != 0 && height > ep.ValidBlockEnd) {
		return nil
	}
	env, err := consensus.DecodeEnvelope(bodyReader(ep.Data))
	if err != nil {
		return err
	}
	if s.consensus != nil {
		s.consensus.Submit(env)
	}
	s.relayExtensible(ep, p)
	return nil
}

// relayInv announces hash to every handshaked peer but from, skipping peers
// already known to have it (spec.md §4.F inventory relay).
func (s *Server) relayInv(t wire.InvType, hash payload.Hash32, from *peer.Peer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for addr, p := range s.peers {
		if addr == from.Address || !p.Handshaked() || p.KnownHash(hash) {
			continue
		}
		p.MarkKnown(hash)
		p.Send(wire.CmdInv, &wire.InvPayload{Type: t, Hashes: []payload.Hash32{hash}})
	}
}

func (s *Server) relayExtensible(ep *wire.ExtensiblePayload, from *peer.Peer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for addr, p := range s.peers {
		if addr == from.Address || !p.Handshaked() {
			continue
		}
		p.Send(wire.CmdExtensible, ep)
	}
}

// BroadcastConsensus implements consensus.Broadcaster: wraps an outbound
// Envelope in an ExtensiblePayload, signs it with the local validator key
// via the envelope's own Signature (already set by consensus.Service before
// calling Broadcaster), and fans it out to every peer.
func (s *Server) BroadcastConsensus(env *consensus.Envelope) {
	var buf bytes.Buffer
	bw := payload.NewWriter(&buf)
	env.Encode(bw)

	ep := &wire.ExtensiblePayload{
		Category:        dBFTCategory,
		ValidBlockStart: env.BlockIndex - 1,
		ValidBlockEnd:   env.BlockIndex,
		Data:            buf.Bytes(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if !p.Handshaked() {
			continue
		}
		p.Send(wire.CmdExtensible, ep)
	}
}

// BroadcastTx announces a freshly admitted local transaction to every peer,
// called by the node aggregate's mempool.Observer hook.
func (s *Server) BroadcastTx(hash payload.Hash32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if !p.Handshaked() || p.KnownHash(hash) {
			continue
		}
		p.MarkKnown(hash)
		p.Send(wire.CmdInv, &wire.InvPayload{Type: wire.InvTypeTx, Hashes: []payload.Hash32{hash}})
	}
}

// BroadcastBlock announces a freshly persisted block to every peer, called
// by the node aggregate's ledger.Observer hook.
func (s *Server) BroadcastBlock(hash payload.Hash32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if !p.Handshaked() || p.KnownHash(hash) {
			continue
		}
		p.MarkKnown(hash)
		p.Send(wire.CmdInv, &wire.InvPayload{Type: wire.InvTypeBlock, Hashes: []payload.Hash32{hash}})
	}
}

// PeerCount returns the number of currently tracked peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
