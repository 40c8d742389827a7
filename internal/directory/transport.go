package directory

import (
	"bytes"
	"encoding/gob"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// gossipInterval is how often Gossip pushes the local snapshot out. Listen
// blocks up to one second per receive before rechecking the stop flag — the
// same blocking-receive-with-timeout discipline every other worker in the
// TPU follows (spec §4.9).
const gossipInterval = 500 * time.Millisecond

func init() {
	// Peer carries net.Addr interface fields; gob needs the concrete type
	// registered before it can encode/decode through the interface.
	gob.Register(&net.UDPAddr{})
}

// snapshot is the wire format exchanged between directories: the sender's
// own descriptor plus every peer it currently knows about.
type snapshot struct {
	From  Peer
	Peers []Peer
}

// Transport is how a Directory's Gossip/Listen loops move snapshots
// between nodes. The spec's default is raw UDP; internal/directory also
// ships a NATS JetStream transport (see nats.go) satisfying the same
// interface.
type Transport interface {
	// Send best-effort delivers snap to every address in targets.
	Send(snap snapshot, targets []net.Addr) error
	// Recv blocks up to timeout waiting for one inbound snapshot.
	Recv(timeout time.Duration) (snapshot, error)
	Close() error
}

// Gossip runs until stop is set, periodically pushing the local directory
// snapshot to every known peer's gossip address. Mirrors Crdt::gossip.
func (d *Directory) Gossip(transport Transport, stop *atomic.Bool, logger zerolog.Logger) {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		if stop.Load() {
			logger.Info().Msg("directory gossip exiting")
			return
		}
		<-ticker.C

		snap := snapshot{From: d.Me(), Peers: d.Peers()}
		var targets []net.Addr
		for _, p := range d.BroadcastTargets() {
			if p.GossipAddr != nil {
				targets = append(targets, p.GossipAddr)
			}
		}
		if len(targets) == 0 {
			continue
		}
		if err := transport.Send(snap, targets); err != nil {
			logger.Debug().Err(err).Msg("directory gossip send failed")
		}
	}
}

// Listen runs until stop is set, merging every inbound snapshot into the
// local directory. Mirrors Crdt::listen.
func (d *Directory) Listen(transport Transport, stop *atomic.Bool, logger zerolog.Logger) {
	for {
		snap, err := transport.Recv(time.Second)
		if err != nil {
			if stop.Load() {
				logger.Info().Msg("directory listen exiting")
				return
			}
			continue
		}
		d.Insert(snap.From)
		for _, p := range snap.Peers {
			d.Insert(p)
		}
	}
}

// udpTransport is the default Transport: gossip snapshots are gob-encoded
// UDP datagrams, grounded on the same read/ReadFromUDP idiom as
// internal/streamer (and, in the corpus, other_examples' UDP forwarder).
type udpTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport binds conn for gossip send/receive. conn is owned by the
// transport and closed by Close.
func NewUDPTransport(conn *net.UDPConn) Transport {
	return &udpTransport{conn: conn}
}

func (t *udpTransport) Send(snap snapshot, targets []net.Addr) error {
	var lastErr error
	for _, addr := range targets {
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		w, err := gobEncode(snap)
		if err != nil {
			return err
		}
		if _, err := t.conn.WriteToUDP(w, udpAddr); err != nil {
			lastErr = err // best-effort: one bad peer does not block the rest
		}
	}
	return lastErr
}

func (t *udpTransport) Recv(timeout time.Duration) (snapshot, error) {
	t.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64*1024)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return snapshot{}, err
	}
	return gobDecodeSnapshot(buf[:n])
}

func (t *udpTransport) Close() error {
	return t.conn.Close()
}

func gobEncode(snap snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecodeSnapshot(data []byte) (snapshot, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}
