package streamer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

const (
	// recvBatchSize bounds how many datagrams Receiver accumulates before
	// flushing a SharedPackets batch downstream, even if the socket keeps
	// producing more without a gap.
	recvBatchSize = 64
	// recvReadTimeout is the per-datagram read deadline; on expiry the
	// receiver flushes whatever it is holding and rechecks the stop flag
	// (spec §4.9's ≤1s shutdown bound).
	recvReadTimeout = time.Second
)

// PacketQueue is the queue type connecting Receiver to the verifier
// fan-out.
type PacketQueue = BatchQueue[*packet.SharedPackets]

// Receiver binds a UDP endpoint and emits SharedPackets batches (spec
// §4.1). Datagram loss on the OS socket is acceptable; backpressure from a
// full output queue blocks the receiver.
type Receiver struct {
	conn     *net.UDPConn
	recycler *packet.Recycler
	out      *PacketQueue
	logger   zerolog.Logger
}

// NewReceiver constructs a Receiver reading from conn and emitting onto out.
func NewReceiver(conn *net.UDPConn, recycler *packet.Recycler, out *PacketQueue, logger zerolog.Logger) *Receiver {
	return &Receiver{conn: conn, recycler: recycler, out: out, logger: logger}
}

// Run reads datagrams until stop is set. Exits once the current
// read-timeout cycle observes the stop flag with no partial batch pending.
func (r *Receiver) Run(stop *atomic.Bool) {
	var batch []*packet.Packet

	for {
		r.conn.SetReadDeadline(time.Now().Add(recvReadTimeout))

		p := r.recycler.Allocate()
		n, addr, err := r.conn.ReadFromUDP(p.Data[:])
		if err != nil {
			r.recycler.Recycle(p)
			if netTimeout(err) {
				if len(batch) > 0 {
					r.flush(&batch)
				}
				if stop.Load() {
					r.logger.Info().Msg("receiver exiting")
					return
				}
				continue
			}
			// Non-timeout socket errors are logged and retried; only the
			// stop flag ends the loop (spec §4.10).
			r.logger.Debug().Err(err).Msg("receiver read error")
			if stop.Load() {
				return
			}
			continue
		}

		p.Size = n
		p.Addr = addr
		batch = append(batch, p)
		if len(batch) >= recvBatchSize {
			r.flush(&batch)
		}
	}
}

func (r *Receiver) flush(batch *[]*packet.Packet) {
	if len(*batch) == 0 {
		return
	}
	r.out.Send(&packet.SharedPackets{Packets: *batch})
	*batch = nil
}

func netTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
