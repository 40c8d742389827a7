// Package directory implements the peer directory (Crdt in the original
// source, spec §9): the replicated set of peer descriptors used to route
// broadcasts and retransmits. One Directory value is owned by the TPU
// assembly and shared via handles across gossip, listener, broadcaster,
// and retransmitter workers — there is no ambient singleton.
package directory

import (
	"net"
	"sync"

	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// Peer is one entry in the directory: a node id and the addresses it
// advertises for each of the TPU's sockets.
type Peer struct {
	ID            packet.NodeID
	GossipAddr    net.Addr
	ReplicateAddr net.Addr
	ServeAddr     net.Addr
}

// Directory is the read-mostly, write-rare peer set. Reads dominate
// (broadcaster/retransmitter consult it per blob); writes are rare
// (gossip updates). Guarded by a single RWMutex, per spec §9.
type Directory struct {
	mu     sync.RWMutex
	me     Peer
	leader packet.NodeID
	peers  map[packet.NodeID]Peer
}

// New creates a Directory describing the local node.
func New(me Peer) *Directory {
	return &Directory{
		me:    me,
		peers: map[packet.NodeID]Peer{me.ID: me},
	}
}

// SetLeader records which node is currently the leader.
func (d *Directory) SetLeader(id packet.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leader = id
}

// Leader returns the current leader id.
func (d *Directory) Leader() packet.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.leader
}

// Insert adds or updates a peer descriptor.
func (d *Directory) Insert(p Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[p.ID] = p
}

// Me returns the local node's own descriptor.
func (d *Directory) Me() Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.me
}

// Peers returns a snapshot of every known peer, including the local node.
func (d *Directory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// BroadcastTargets returns every peer except the local node — the set a
// broadcaster or retransmitter should send to.
func (d *Directory) BroadcastTargets() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for id, p := range d.peers {
		if id == d.me.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}
