package streamer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// ResponseQueue carries packets the RequestProcessor has already filled in
// with a reply payload, addressed back to the querying peer.
type ResponseQueue = BatchQueue[*packet.Packet]

// Responder drains ResponseQueue and writes each packet back to its
// originating address over the ephemeral UDP socket bound alongside
// `serve` (spec §4.1, §6). Recycles each packet after it is sent.
type Responder struct {
	conn     *net.UDPConn
	recycler *packet.Recycler
	in       *ResponseQueue
	logger   zerolog.Logger
}

// NewResponder constructs a Responder writing to conn.
func NewResponder(conn *net.UDPConn, recycler *packet.Recycler, in *ResponseQueue, logger zerolog.Logger) *Responder {
	return &Responder{conn: conn, recycler: recycler, in: in, logger: logger}
}

// Run drains responses until stop is set.
func (r *Responder) Run(stop *atomic.Bool) {
	for {
		p, err := r.in.RecvOne(time.Second)
		if err != nil {
			if stop.Load() {
				r.logger.Info().Msg("responder exiting")
				return
			}
			continue
		}

		udpAddr, ok := p.Addr.(*net.UDPAddr)
		if ok {
			if _, err := r.conn.WriteToUDP(p.Payload(), udpAddr); err != nil {
				r.logger.Debug().Err(err).Msg("responder write error")
			}
		}
		r.recycler.Recycle(p)
	}
}
