// Package replicate implements the Replicator (spec §4.8): it drains the
// Window's primary output, reconstructs entries from blobs, applies them
// to the accounting state, and recycles the blobs.
package replicate

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/ledger"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

const recvTimeout = time.Second

// Replicator applies windowed blobs to accounting state.
type Replicator struct {
	in         *streamer.BlobQueue
	accounting *accounting.Stage
	recycler   *packet.BlobRecycler
	logger     zerolog.Logger
}

// NewReplicator constructs a Replicator.
func NewReplicator(in *streamer.BlobQueue, stage *accounting.Stage, recycler *packet.BlobRecycler, logger zerolog.Logger) *Replicator {
	return &Replicator{in: in, accounting: stage, recycler: recycler, logger: logger}
}

// Run drains Window's output until stop is set. A receive error only ends
// the loop when the stop flag is set (spec §4.8).
func (r *Replicator) Run(stop *atomic.Bool) {
	for {
		b, err := r.in.RecvOne(recvTimeout)
		if err != nil {
			if stop.Load() {
				r.logger.Info().Msg("replicator exiting")
				return
			}
			continue
		}

		entries, err := ledger.ReconstructEntriesFromBlobs([]*packet.Blob{b})
		if err != nil {
			r.logger.Warn().Err(err).Uint64("index", b.Index).Msg("replicator: failed to reconstruct entry from blob")
			r.recycler.Recycle(b)
			continue
		}

		if err := r.accounting.ProcessVerifiedEntries(entries); err != nil {
			r.logger.Warn().Err(err).Uint64("index", b.Index).Msg("replicator: failed to apply entries")
		}
		r.recycler.Recycle(b)
	}
}
