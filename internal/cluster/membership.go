// Package cluster implements peer membership and key routing: a small
// ordered table of known peers plus the modulo-hash function used to decide
// which peer owns a given key.
//
// Unlike a consistent-hash ring with virtual nodes, routing here recomputes
// hash(key) mod active_count on every lookup. Membership changes therefore
// remap nearly every key — that is the documented behavior of this scheme,
// not a defect; a stronger consistent-hash scheme is out of scope.
package cluster

import (
	"fmt"
	"sync"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// PeerEntry is one row of the membership table.
type PeerEntry struct {
	IP     string
	Port   int
	Active bool
}

func (p PeerEntry) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Membership is the ordered peer table described by the routing spec: a
// capacity-bounded slice, a count, and an index identifying the local node.
// Entries are never physically removed — NODE_LEAVE only flips Active.
type Membership struct {
	mu       sync.Mutex
	peers    []PeerEntry
	capacity int
	selfIdx  int // -1 until a self peer exists
}

// NewMembership creates an empty table with the given capacity (spec
// N_MAX = 10, see frame.MaxPeers).
func NewMembership(capacity int) *Membership {
	return &Membership{
		peers:    make([]PeerEntry, 0, capacity),
		capacity: capacity,
		selfIdx:  -1,
	}
}

// Add inserts or reactivates the (ip, port) entry. If this is the first
// entry ever added, it becomes self (spec §4.4 add()).
//
// Callers that are registering a peer (not self) should ignore the returned
// index; callers registering the local node's own listening address use it
// to confirm self_idx.
func (m *Membership) Add(ip string, port int) (idx int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.peers {
		if m.peers[i].IP == ip && m.peers[i].Port == port {
			m.peers[i].Active = true
			return i, nil
		}
	}

	if len(m.peers) >= m.capacity {
		return -1, fmt.Errorf("cluster: membership table full (capacity %d)", m.capacity)
	}

	wasEmpty := len(m.peers) == 0
	m.peers = append(m.peers, PeerEntry{IP: ip, Port: port, Active: true})
	idx = len(m.peers) - 1
	if wasEmpty {
		m.selfIdx = 0
	}
	return idx, nil
}

// Remove marks the (ip, port) entry inactive. If it was self, self_idx is
// reassigned to the first remaining active entry, or -1 if none remain
// (spec §4.4 remove()).
func (m *Membership) Remove(ip string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i := range m.peers {
		if m.peers[i].IP == ip && m.peers[i].Port == port {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("cluster: no peer %s:%d", ip, port)
	}
	m.peers[idx].Active = false

	if m.selfIdx == idx {
		m.selfIdx = -1
		for i := range m.peers {
			if m.peers[i].Active {
				m.selfIdx = i
				break
			}
		}
	}
	return nil
}

// SelfIndex returns the index of the local node, or -1 if unknown.
func (m *Membership) SelfIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfIdx
}

// Self returns the local node's own peer entry, if known.
func (m *Membership) Self() (PeerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selfIdx < 0 || m.selfIdx >= len(m.peers) {
		return PeerEntry{}, false
	}
	return m.peers[m.selfIdx], true
}

// Peers returns a copy of the full peer table in table order.
func (m *Membership) Peers() []PeerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerEntry, len(m.peers))
	copy(out, m.peers)
	return out
}

// ActivePeersExcept returns every active peer other than idx, in table
// order — the fan-out set the replicator iterates (spec §4.5).
func (m *Membership) ActivePeersExcept(idx int) []PeerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PeerEntry
	for i, p := range m.peers {
		if i != idx && p.Active {
			out = append(out, p)
		}
	}
	return out
}

// NodeForKey returns the index of the peer that owns key, or -1 if there
// are no active peers (spec §4.4 node_for_key()).
func (m *Membership) NodeForKey(key []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, p := range m.peers {
		if p.Active {
			active++
		}
	}
	if active == 0 {
		return -1
	}

	target := int(HashKey(key) % uint32(active))
	seen := 0
	for i, p := range m.peers {
		if !p.Active {
			continue
		}
		if seen == target {
			return i
		}
		seen++
	}
	return -1 // unreachable given active > 0
}

// ReplicateFanout calls send once for every active peer other than self, in
// table order, holding the Membership lock for the entire fan-out. A peer
// whose send returns an error is marked inactive before moving on to the
// next one. Holding the lock across network I/O serializes replication with
// concurrent membership changes — the simplest correct option, at the cost
// of blocking joins/leaves during a slow peer (spec §4.5, §9).
func (m *Membership) ReplicateFanout(send func(peer PeerEntry) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.peers {
		if i == m.selfIdx || !m.peers[i].Active {
			continue
		}
		if err := send(m.peers[i]); err != nil {
			m.peers[i].Active = false
		}
	}
}

// HashKey implements the PJW-like fold used to pick a routing slot:
// h = 0; for each byte, h = h*31 + byte; unsigned 32-bit wraparound
// (spec §4.4.1). Go's uint32 arithmetic wraps natively, so no masking is
// needed.
func HashKey(key []byte) uint32 {
	var h uint32
	for _, b := range key {
		h = h*31 + uint32(b)
	}
	return h
}

// MaxPeers is the membership table's default capacity.
const MaxPeers = frame.MaxPeers
