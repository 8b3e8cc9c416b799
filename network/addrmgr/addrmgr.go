// Package addrmgr tracks known and banned peer addresses, offering random
// selection for outbound dialing. Ported from the teacher's
// infrastructure/network/addressmanager/addressmanager.go: the same
// string-keyed address/banned maps under one mutex, the same
// add/remove/random/ban/unban shape, generalized from kaspad's DAG network
// to this core's Neo N3 seed-list/P2P bootstrap.
package addrmgr

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// ErrAddressNotFound is returned by operations on an address the manager
// doesn't know about.
var ErrAddressNotFound = errors.New("addrmgr: address not found")

// AddressKey uniquely identifies a host:port pair, independent of whether
// it arrived via IPv4 or IPv4-mapped IPv6 notation.
type AddressKey string

// Address is one known peer endpoint.
type Address struct {
	IP       net.IP
	Port     uint16
	LastSeen time.Time
}

func key(ip net.IP, port uint16) AddressKey {
	return AddressKey(fmt.Sprintf("%s:%d", ip.String(), port))
}

// Manager holds the address book for a single node. All methods are safe
// for concurrent use.
type Manager struct {
	mu              sync.Mutex
	addresses       map[AddressKey]*Address
	bannedAddresses map[AddressKey]time.Time
	banDuration     time.Duration
	rng             *rand.Rand
}

// New creates an empty Manager. banDuration is how long an address stays
// banned before it becomes eligible again (spec.md §4.F peer scoring).
func New(banDuration time.Duration) *Manager {
	return &Manager{
		addresses:       make(map[AddressKey]*Address),
		bannedAddresses: make(map[AddressKey]time.Time),
		banDuration:     banDuration,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddAddress records ip:port as known, if it isn't currently banned and is
// not a loopback, unspecified, multicast or link-local address (private
// ranges are accepted).
func (m *Manager) AddAddress(ip net.IP, port uint16) {
	if !isRoutable(ip) {
		return
	}
	k := key(ip, port)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, banned := m.bannedAddresses[k]; banned {
		return
	}
	if _, ok := m.addresses[k]; ok {
		return
	}
	m.addresses[k] = &Address{IP: ip, Port: port, LastSeen: time.Now()}
}

// AddAddresses is a batch convenience wrapper over AddAddress.
func (m *Manager) AddAddresses(addrs []Address) {
	for _, a := range addrs {
		m.AddAddress(a.IP, a.Port)
	}
}

// RemoveAddress drops ip:port from the known set.
func (m *Manager) RemoveAddress(ip net.IP, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.addresses, key(ip, port))
}

// Addresses returns a snapshot of every known, non-banned address.
func (m *Manager) Addresses() []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Address, 0, len(m.addresses))
	for _, a := range m.addresses {
		out = append(out, *a)
	}
	return out
}

// RandomAddress returns a uniformly random known address not in exceptions,
// or false if none are available.
func (m *Manager) RandomAddress(exceptions map[AddressKey]bool) (Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireBansLocked()

	candidates := make([]*Address, 0, len(m.addresses))
	for k, a := range m.addresses {
		if exceptions != nil && exceptions[k] {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return Address{}, false
	}
	return *candidates[m.rng.Intn(len(candidates))], true
}

// RandomAddresses returns up to count distinct random addresses.
func (m *Manager) RandomAddresses(count int, exceptions map[AddressKey]bool) []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireBansLocked()

	candidates := make([]*Address, 0, len(m.addresses))
	for k, a := range m.addresses {
		if exceptions != nil && exceptions[k] {
			continue
		}
		candidates = append(candidates, a)
	}
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if count > len(candidates) {
		count = len(candidates)
	}
	out := make([]Address, count)
	for i := 0; i < count; i++ {
		out[i] = *candidates[i]
	}
	return out
}

// Ban marks ip:port as banned for the manager's configured duration,
// removing it from the known set so it isn't handed out for dialing.
func (m *Manager) Ban(ip net.IP, port uint16) {
	k := key(ip, port)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.addresses, k)
	m.bannedAddresses[k] = time.Now().Add(m.banDuration)
}

// Unban lifts a ban early.
func (m *Manager) Unban(ip net.IP, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bannedAddresses, key(ip, port))
}

// IsBanned reports whether ip:port is currently under an unexpired ban.
func (m *Manager) IsBanned(ip net.IP, port uint16) bool {
	k := key(ip, port)
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.bannedAddresses[k]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.bannedAddresses, k)
		return false
	}
	return true
}

// expireBansLocked drops bans whose duration has elapsed. Callers must
// already hold mu.
func (m *Manager) expireBansLocked() {
	now := time.Now()
	for k, until := range m.bannedAddresses {
		if now.After(until) {
			delete(m.bannedAddresses, k)
		}
	}
}

// isRoutable rejects loopback, link-local, unspecified and multicast
// addresses the way the teacher's addressmanager filters its own local
// candidate list before accepting a peer-supplied address.
func isRoutable(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}
