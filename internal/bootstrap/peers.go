package bootstrap

import (
	"fmt"
	"net"

	"github.com/0xkanth/ledger-tpu/internal/directory"
)

// PeerConfig is a statically-configured seed peer, as read from config's
// `[[peers]]` array-of-tables. Addresses are optional per peer — a
// validator's seed list need only carry the leader's serve/replicate
// addresses, while a leader's seed list may only need gossip.
type PeerConfig struct {
	ID        string `koanf:"id"`
	Gossip    string `koanf:"gossip"`
	Replicate string `koanf:"replicate"`
	Serve     string `koanf:"serve"`
}

// ResolvePeers turns a list of PeerConfig into directory.Peer values ready
// for Directory.Insert, resolving each non-empty address.
func ResolvePeers(configs []PeerConfig) ([]directory.Peer, error) {
	peers := make([]directory.Peer, 0, len(configs))
	for _, c := range configs {
		id, err := ParseNodeIDHex(c.ID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: peer %q: %w", c.ID, err)
		}
		p := directory.Peer{ID: id}
		if p.GossipAddr, err = resolveOptional(c.Gossip); err != nil {
			return nil, err
		}
		if p.ReplicateAddr, err = resolveOptional(c.Replicate); err != nil {
			return nil, err
		}
		if p.ServeAddr, err = resolveOptional(c.Serve); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func resolveOptional(addr string) (net.Addr, error) {
	if addr == "" {
		return nil, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolve address %q: %w", addr, err)
	}
	return udpAddr, nil
}
