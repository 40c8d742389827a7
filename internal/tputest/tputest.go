// Package tputest provides an end-to-end test harness for assembling
// leader/validator TPU nodes bound to ephemeral loopback sockets,
// mirroring original_source/src/tpu.rs's test_node helper used by its own
// replication tests.
package tputest

import (
	"crypto/ed25519"
	"net"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// Node is the address bundle test_node returns in the original source:
// a peer descriptor plus every socket address it advertises.
type Node struct {
	ID            packet.NodeID
	GossipAddr    *net.UDPAddr
	ReplicateAddr *net.UDPAddr
	ServeAddr     *net.UDPAddr
	EventsAddr    *net.UDPAddr
}

// NewNode allocates four ephemeral loopback UDP ports (gossip, replicate,
// serve, plus one reserved "events" socket the original kept unwired — see
// SPEC_FULL §5) and derives a node id from a fresh ed25519 keypair, without
// actually binding any socket long-term: each returned address is grabbed
// by binding briefly and closing, so the caller's own Receiver/BlobReceiver
// can bind it for real.
func NewNode() (Node, error) {
	gossip, err := ephemeralAddr()
	if err != nil {
		return Node{}, err
	}
	replicate, err := ephemeralAddr()
	if err != nil {
		return Node{}, err
	}
	serve, err := ephemeralAddr()
	if err != nil {
		return Node{}, err
	}
	events, err := ephemeralAddr()
	if err != nil {
		return Node{}, err
	}

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Node{}, err
	}
	var id packet.NodeID
	copy(id[:], pub)

	return Node{ID: id, GossipAddr: gossip, ReplicateAddr: replicate, ServeAddr: serve, EventsAddr: events}, nil
}

// Peer returns the directory.Peer descriptor for n.
func (n Node) Peer() directory.Peer {
	return directory.Peer{ID: n.ID, GossipAddr: n.GossipAddr, ReplicateAddr: n.ReplicateAddr, ServeAddr: n.ServeAddr}
}

// ephemeralAddr binds loopback:0 briefly to obtain an available port, then
// releases it. There's an inherent TOCTOU race (another process could grab
// the port before the real bind happens) but it's the same approach
// test_node's Rust original uses, and is fine for test harnesses.
func ephemeralAddr() (*net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		return nil, err
	}
	addr := conn.LocalAddr().(*net.UDPAddr)
	conn.Close()
	return addr, nil
}

// NopLogger is a convenience zerolog.Logger for tests that don't care
// about log output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
