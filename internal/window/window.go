// Package window implements the validator-mode reordering and
// de-duplication buffer keyed on blob index (spec §4.6): it emits blobs in
// strictly increasing index order on its primary output, copies each blob
// to a retransmit output in parallel, and either stalls on a missing index
// or — once WindowGapTimeout elapses — skips forward, per the spec §9
// Open Question resolution recorded in DESIGN.md.
package window

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// Checkpoint persists the next index the window expects (one past the last
// contiguously-emitted blob) so a restarted validator can resume without
// re-requesting the whole blob history.
// internal/checkpoint ships a bbolt-backed implementation.
type Checkpoint interface {
	Load() (uint64, error)
	Save(index uint64) error
}

// Window holds a sliding buffer of received-but-not-yet-emitted blobs.
type Window struct {
	mu         sync.Mutex
	size       int
	nextIndex  uint64
	buffer     map[uint64]*packet.Blob
	gapSince   time.Time
	gapTimeout time.Duration

	checkpoint Checkpoint
	recycler   *packet.BlobRecycler

	in         *streamer.BlobQueue // from BlobReceiver
	out        *streamer.BlobQueue // to Replicator, strictly increasing
	retransmit *streamer.BlobQueue // to Retransmitter, one copy per blob

	logger zerolog.Logger
}

// New constructs a Window. gapTimeout of 0 means stall forever on a
// missing index (the original design's behavior); a positive value skips
// forward to the lowest buffered index once the gap has persisted that
// long.
func New(size int, gapTimeout time.Duration, checkpoint Checkpoint, recycler *packet.BlobRecycler, in, out, retransmit *streamer.BlobQueue, logger zerolog.Logger) *Window {
	w := &Window{
		size:       size,
		buffer:     make(map[uint64]*packet.Blob),
		gapTimeout: gapTimeout,
		checkpoint: checkpoint,
		recycler:   recycler,
		in:         in,
		out:        out,
		retransmit: retransmit,
		logger:     logger,
	}
	if checkpoint != nil {
		if idx, err := checkpoint.Load(); err == nil {
			w.nextIndex = idx
		}
	}
	return w
}

// Run drains BlobReceiver until stop is set.
func (w *Window) Run(stop *atomic.Bool) {
	for {
		b, err := w.in.RecvOne(time.Second)
		if err != nil {
			if stop.Load() {
				w.logger.Info().Msg("window exiting")
				return
			}
			// An idle receive still lets a pending gap timeout fire.
			w.mu.Lock()
			w.flush()
			w.mu.Unlock()
			continue
		}
		w.insert(b)
	}
}

func (w *Window) insert(b *packet.Blob) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b.Index < w.nextIndex {
		w.recycler.Recycle(b) // already emitted; stale retransmit or duplicate
		return
	}
	if _, exists := w.buffer[b.Index]; exists {
		w.recycler.Recycle(b)
		return
	}
	if w.size > 0 && b.Index >= w.nextIndex+uint64(w.size) {
		w.recycler.Recycle(b) // beyond the window's capacity; OS-drop equivalent
		return
	}

	if w.retransmit != nil {
		w.retransmit.Send(cloneBlob(b, w.recycler))
	}

	w.buffer[b.Index] = b
	w.flush()
}

// flush emits every contiguous blob starting at nextIndex, then — if
// stuck on a gap longer than gapTimeout — skips forward to the lowest
// buffered index and retries.
func (w *Window) flush() {
	for {
		b, ok := w.buffer[w.nextIndex]
		if ok {
			delete(w.buffer, w.nextIndex)
			w.out.Send(b)
			w.nextIndex++
			w.gapSince = time.Time{}
			if w.checkpoint != nil {
				if err := w.checkpoint.Save(w.nextIndex); err != nil {
					w.logger.Debug().Err(err).Msg("window: checkpoint save failed")
				}
			}
			continue
		}

		if len(w.buffer) == 0 {
			return
		}
		if w.gapTimeout <= 0 {
			return // permanent stall, per the original design
		}
		if w.gapSince.IsZero() {
			w.gapSince = time.Now()
			return
		}
		if time.Since(w.gapSince) < w.gapTimeout {
			return
		}

		lowest, first := uint64(0), true
		for idx := range w.buffer {
			if first || idx < lowest {
				lowest, first = idx, false
			}
		}
		w.logger.Warn().
			Uint64("from", w.nextIndex).
			Uint64("to", lowest).
			Msg("window: permanent gap timeout elapsed, skipping forward")
		w.nextIndex = lowest
		w.gapSince = time.Time{}
	}
}

func cloneBlob(src *packet.Blob, recycler *packet.BlobRecycler) *packet.Blob {
	dst := recycler.Allocate()
	dst.Index = src.Index
	dst.ID = src.ID
	dst.Addr = src.Addr
	dst.SetPayload(src.Payload())
	return dst
}
