// Package verifier implements the signature-verification fan-out (spec
// §4.2): a fixed pool of N worker goroutines sharing one locked receiver
// end (the packet queue) and one locked sender end (the verified queue).
package verifier

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
	"github.com/0xkanth/ledger-tpu/pkg/signature"
)

// recvTimeout bounds how long a worker blocks on the shared receiver end
// before rechecking the stop flag (spec §4.9).
const recvTimeout = time.Second

// maxDrainBatch caps how many SharedPackets a single RecvBatch call
// collects in its non-blocking drain phase.
const maxDrainBatch = 32

// Verified pairs a batch with the signature-verify flags produced for it.
type Verified struct {
	Packets  *packet.SharedPackets
	SigFlags []byte
}

// VerifiedQueue carries Verified values from the verifier pool to the
// RequestProcessor.
type VerifiedQueue = streamer.BatchQueue[Verified]

// Pool is a fixed-size set of verifier workers.
type Pool struct {
	n      int
	in     *streamer.PacketQueue
	out    *VerifiedQueue
	decode signature.Decoder
	logger zerolog.Logger
}

// NewPool constructs a verifier pool of n workers reading from in and
// writing to out. decode turns a packet's raw payload into a Verifiable
// for the crypto collaborator to check.
func NewPool(n int, in *streamer.PacketQueue, out *VerifiedQueue, decode signature.Decoder, logger zerolog.Logger) *Pool {
	if n <= 0 {
		n = 4 // spec §4.2's default
	}
	return &Pool{n: n, in: in, out: out, decode: decode, logger: logger}
}

// Run launches the pool's workers and blocks until all of them have
// exited (i.e. until stop is set and every worker has observed it).
func (p *Pool) Run(stop *atomic.Bool) {
	done := make(chan struct{}, p.n)
	for i := 0; i < p.n; i++ {
		go p.worker(i, stop, done)
	}
	for i := 0; i < p.n; i++ {
		<-done
	}
}

// worker implements the three steps of spec §4.2: locked batch-receive,
// delegated signature verification, send to the verified queue. A receive
// error is only treated as shutdown when the stop flag is set; otherwise
// the worker loops (silent retry, per §4.10).
func (p *Pool) worker(id int, stop *atomic.Bool, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		batches, err := p.in.RecvBatch(recvTimeout, maxDrainBatch)
		if err != nil {
			if stop.Load() {
				p.logger.Info().Int("worker", id).Msg("verifier worker exiting")
				return
			}
			continue
		}

		for _, batch := range batches {
			flags := signature.VerifyBatch(batch, p.decode)
			if len(flags) != batch.Len() {
				// Spec §4.10: an empty/short flag vector means the batch is
				// rejected outright; abort this iteration, not the worker.
				p.logger.Warn().Int("worker", id).Msg("signature verify returned short flag vector, batch rejected")
				continue
			}
			p.out.Send(Verified{Packets: batch, SigFlags: flags})
		}
	}
}
