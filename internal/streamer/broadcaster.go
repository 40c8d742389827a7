package streamer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// BlobBatch is one drain pass worth of blobs the sync service packed
// together (spec §4.4's "packs the collected entries into blobs… pushes
// the blob queue to the broadcaster").
type BlobBatch = []*packet.Blob

// BroadcastQueue carries blob batches from SyncService to Broadcaster.
type BroadcastQueue = BatchQueue[BlobBatch]

// Broadcaster pulls blob batches and transmits each blob to every peer in
// the directory over UDP (spec §4.5). Best-effort and unordered across
// peers; recycles blobs once every send for a batch has been attempted.
type Broadcaster struct {
	conn     *net.UDPConn
	dir      *directory.Directory
	recycler *packet.BlobRecycler
	in       *BroadcastQueue
	logger   zerolog.Logger
}

// NewBroadcaster constructs a Broadcaster sending over conn.
func NewBroadcaster(conn *net.UDPConn, dir *directory.Directory, recycler *packet.BlobRecycler, in *BroadcastQueue, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{conn: conn, dir: dir, recycler: recycler, in: in, logger: logger}
}

// Run drains blob batches until stop is set.
func (b *Broadcaster) Run(stop *atomic.Bool) {
	for {
		batch, err := b.in.RecvOne(time.Second)
		if err != nil {
			if stop.Load() {
				b.logger.Info().Msg("broadcaster exiting")
				return
			}
			continue
		}
		b.send(batch)
	}
}

func (b *Broadcaster) send(batch []*packet.Blob) {
	targets := b.dir.BroadcastTargets()
	for _, blob := range batch {
		wire := blob.WireEncode()
		for _, peer := range targets {
			addr, ok := peer.ReplicateAddr.(*net.UDPAddr)
			if !ok {
				continue
			}
			if _, err := b.conn.WriteToUDP(wire, addr); err != nil {
				b.logger.Debug().Err(err).Str("peer", addr.String()).Msg("broadcast send failed")
			}
		}
		b.recycler.Recycle(blob)
	}
}
