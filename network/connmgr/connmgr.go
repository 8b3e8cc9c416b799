// Package connmgr maintains the node's connection count (outbound dials plus
// registered inbound connections) against the configured target, dialing
// candidates from addrmgr on a fixed RetryDelay tick; there is no
// per-address backoff. Grounded on the teacher's connmanager package: the
// connectionSet map-of-net-addr-to-connection shape
// (connmanager/connection_set.go) and the start/stop lifecycle
// kaspad.go wires its connectionManager with.
package connmgr

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/neo-core/neod/log"
	"github.com/neo-core/neod/network/addrmgr"
)

// connectionSet mirrors the teacher's connmanager/connection_set.go: a
// plain string-keyed map with add/remove/get helpers, no extra bookkeeping.
type connectionSet map[string]net.Conn

func (s connectionSet) add(addr string, conn net.Conn) { s[addr] = conn }
func (s connectionSet) remove(addr string)             { delete(s, addr) }
func (s connectionSet) get(addr string) (net.Conn, bool) {
	c, ok := s[addr]
	return c, ok
}

// Dialer opens an outbound connection, handing it to onConnected for
// handshake/registration. Implemented by network.Server so connmgr stays
// free of wire/peer concerns.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
	OnConnected(conn net.Conn, outbound bool)
	OnDisconnected(address string)
}

// Config bounds connmgr's behavior.
type Config struct {
	TargetOutbound int
	RetryDelay     time.Duration
	DialTimeout    time.Duration
}

// Manager maintains TargetOutbound live connections, sourcing dial
// candidates from the address manager and retrying on failure.
type Manager struct {
	cfg     Config
	addrs   *addrmgr.Manager
	dialer  Dialer
	logger  zapLogger
	seeds   []string

	mu      sync.Mutex
	conns   connectionSet
	pending map[string]bool

	stop chan struct{}
	done chan struct{}
}

type zapLogger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
}

// New creates a Manager. seeds are dialed first (DNS/static seed list),
// ahead of any addresses addrmgr has learned since.
func New(cfg Config, addrs *addrmgr.Manager, dialer Dialer, seeds []string) *Manager {
	return &Manager{
		cfg:     cfg,
		addrs:   addrs,
		dialer:  dialer,
		logger:  log.New("network"),
		seeds:   seeds,
		conns:   make(connectionSet),
		pending: make(map[string]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the connection-maintenance loop in the background.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the maintenance loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for _, s := range m.seeds {
		m.tryDial(ctx, s)
	}

	ticker := time.NewTicker(m.cfg.RetryDelay)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maintain(ctx)
		}
	}
}

func (m *Manager) maintain(ctx context.Context) {
	m.mu.Lock()
	deficit := m.cfg.TargetOutbound - len(m.conns)
	m.mu.Unlock()
	if deficit <= 0 {
		return
	}

	exceptions := m.connectedKeys()
	candidates := m.addrs.RandomAddresses(deficit, exceptions)
	for _, c := range candidates {
		addr := net.JoinHostPort(c.IP.String(), portString(c.Port))
		m.tryDial(ctx, addr)
	}
}

func (m *Manager) connectedKeys() map[addrmgr.AddressKey]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[addrmgr.AddressKey]bool, len(m.conns)+len(m.pending))
	for addr := range m.conns {
		out[addrmgr.AddressKey(addr)] = true
	}
	for addr := range m.pending {
		out[addrmgr.AddressKey(addr)] = true
	}
	return out
}

func (m *Manager) tryDial(ctx context.Context, address string) {
	m.mu.Lock()
	if _, connected := m.conns.get(address); connected || m.pending[address] {
		m.mu.Unlock()
		return
	}
	m.pending[address] = true
	m.mu.Unlock()

	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()

		conn, err := m.dialer.Dial(dialCtx, address)

		m.mu.Lock()
		delete(m.pending, address)
		m.mu.Unlock()

		if err != nil {
			m.logger.Infow("outbound dial failed", "address", address, "err", err)
			return
		}

		m.mu.Lock()
		m.conns.add(address, conn)
		m.mu.Unlock()
		m.dialer.OnConnected(conn, true)
	}()
}

// NotifyDisconnected removes address from the live set so maintain() will
// consider it a deficit again on the next tick.
func (m *Manager) NotifyDisconnected(address string) {
	m.mu.Lock()
	m.conns.remove(address)
	m.mu.Unlock()
	m.dialer.OnDisconnected(address)
}

// RegisterInbound tracks an inbound connection in the same set as dialed
// ones, so it counts toward ConnectionCount and reduces the number of
// outbound dials maintain makes to reach TargetOutbound.
func (m *Manager) RegisterInbound(address string, conn net.Conn) {
	m.mu.Lock()
	m.conns.add(address, conn)
	m.mu.Unlock()
}

// ConnectionCount returns the number of live connections this manager knows
// about (outbound it dialed plus inbound registered via RegisterInbound).
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
