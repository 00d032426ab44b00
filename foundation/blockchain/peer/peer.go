// Package peer maintains the peer related information such as the set
// of known peers and their status.
package peer

import (
	"sort"
	"sync"
)

// Peer represents information about a Node in the network. The host is the
// address of the node's private API.
type Peer struct {
	Host string `json:"host"`
}

// New constructs a new info value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	LatestBlockHash  string `json:"latest_block_hash"`
	LatestBlockIndex uint64 `json:"latest_block_index"`
	Mining           bool   `json:"mining"`
	KnownPeers       []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers. Peers are never removed from the set.
type PeerSet struct {
	mu   sync.RWMutex
	self string
	set  map[Peer]struct{}
}

// NewPeerSet constructs a new info set to manage node peer information. The
// host of the running node is never added to the set.
func NewPeerSet(self string) *PeerSet {
	return &PeerSet{
		self: self,
		set:  make(map[Peer]struct{}),
	}
}

// Add adds a new node to the set. It reports whether the peer was new.
func (ps *PeerSet) Add(peer Peer) bool {
	if peer.Host == "" || peer.Match(ps.self) {
		return false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Contains reports whether the peer is known.
func (ps *PeerSet) Contains(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[peer]
	return exists
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns a list of the known peers excluding the specified host,
// sorted by host.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]Peer, 0, len(ps.set))
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Host < peers[j].Host })

	return peers
}

// Hosts returns the hosts of the known peers sorted.
func (ps *PeerSet) Hosts() []string {
	peers := ps.Copy("")

	hosts := make([]string, len(peers))
	for i, peer := range peers {
		hosts[i] = peer.Host
	}

	return hosts
}
