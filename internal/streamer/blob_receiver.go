package streamer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// BlobQueue is the queue type connecting BlobReceiver to Window, and
// Window's retransmit output to Retransmitter.
type BlobQueue = BatchQueue[*packet.Blob]

// BlobReceiver reads blobs off the replicate UDP socket and emits them one
// at a time onto out (spec §4.6). Unlike Receiver it does not batch —
// Window consumes single blobs to reorder them by index.
type BlobReceiver struct {
	conn     *net.UDPConn
	recycler *packet.BlobRecycler
	out      *BlobQueue
	logger   zerolog.Logger
}

// NewBlobReceiver constructs a BlobReceiver reading from conn.
func NewBlobReceiver(conn *net.UDPConn, recycler *packet.BlobRecycler, out *BlobQueue, logger zerolog.Logger) *BlobReceiver {
	return &BlobReceiver{conn: conn, recycler: recycler, out: out, logger: logger}
}

// Run reads blobs until stop is set.
func (r *BlobReceiver) Run(stop *atomic.Bool) {
	for {
		r.conn.SetReadDeadline(time.Now().Add(recvReadTimeout))

		raw := make([]byte, packet.BlobDataSize)
		n, addr, err := r.conn.ReadFromUDP(raw)
		if err != nil {
			if netTimeout(err) {
				if stop.Load() {
					r.logger.Info().Msg("blob receiver exiting")
					return
				}
				continue
			}
			r.logger.Debug().Err(err).Msg("blob receiver read error")
			if stop.Load() {
				return
			}
			continue
		}

		b := r.recycler.Allocate()
		if err := b.WireDecode(raw[:n]); err != nil {
			r.recycler.Recycle(b)
			r.logger.Debug().Err(err).Msg("blob receiver decode error")
			continue
		}
		b.Addr = addr
		r.out.Send(b)
	}
}
