package streamer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// Retransmitter forwards windowed blobs to other peers per the directory's
// rebroadcast policy (spec §4.7), independent of the Replicator that
// consumes the same Window's primary output.
type Retransmitter struct {
	conn     *net.UDPConn
	dir      *directory.Directory
	recycler *packet.BlobRecycler
	in       *BlobQueue
	logger   zerolog.Logger
}

// NewRetransmitter constructs a Retransmitter sending over conn.
func NewRetransmitter(conn *net.UDPConn, dir *directory.Directory, recycler *packet.BlobRecycler, in *BlobQueue, logger zerolog.Logger) *Retransmitter {
	return &Retransmitter{conn: conn, dir: dir, recycler: recycler, in: in, logger: logger}
}

// Run drains the retransmit queue until stop is set.
func (rt *Retransmitter) Run(stop *atomic.Bool) {
	for {
		blob, err := rt.in.RecvOne(time.Second)
		if err != nil {
			if stop.Load() {
				rt.logger.Info().Msg("retransmitter exiting")
				return
			}
			continue
		}

		wire := blob.WireEncode()
		for _, peer := range rt.dir.BroadcastTargets() {
			if peer.ID == blob.ID {
				continue // never echo a blob back to its originator
			}
			addr, ok := peer.ReplicateAddr.(*net.UDPAddr)
			if !ok {
				continue
			}
			if _, err := rt.conn.WriteToUDP(wire, addr); err != nil {
				rt.logger.Debug().Err(err).Str("peer", addr.String()).Msg("retransmit send failed")
			}
		}
		rt.recycler.Recycle(blob)
	}
}
