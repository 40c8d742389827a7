// Package sync implements the SyncService and SyncNoBroadcast drain stages
// (spec §4.4): repeatedly drain the accounting stage's output channel,
// register each entry's id as a valid reference, append it to a
// caller-supplied writer, notify entry-info subscribers, and — in leader
// mode — pack the drained entries into blobs for the broadcaster.
package sync

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/ledger"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// EntryNotifier is the subset of internal/request's Processor the sync
// service calls into to fan entry headers out to subscribers.
type EntryNotifier interface {
	NotifyEntry(entry.Header)
}

// MultiNotifier fans one NotifyEntry call out to several notifiers — used
// to wire both the in-process subscriber list and the optional Postgres
// archive off the same sync service.
type MultiNotifier []EntryNotifier

// NotifyEntry implements EntryNotifier.
func (m MultiNotifier) NotifyEntry(header entry.Header) {
	for _, n := range m {
		n.NotifyEntry(header)
	}
}

// Service drains an accounting stage's output, one blocking receive with a
// timeout followed by a non-blocking drain (spec §4.4's draining
// discipline). With a non-nil broadcast queue it is the leader-mode
// SyncService; with broadcast nil (and typically an io.Discard writer) it
// is the validator-mode SyncNoBroadcast.
type Service struct {
	stage    *accounting.Stage
	writer   io.Writer
	writerMu sync.Mutex
	notifier EntryNotifier // nil disables entry-info notification

	broadcast     *streamer.BroadcastQueue // nil disables blob packing/broadcast
	nodeID        packet.NodeID
	blobRecycler  *packet.BlobRecycler
	nextBlobIndex uint64

	drainTimeout time.Duration
	logger       zerolog.Logger
}

// NewSyncService constructs the leader-mode variant: entries are appended
// to writer, subscribers are notified, and drained entries are packed into
// blobs and pushed to broadcast.
func NewSyncService(stage *accounting.Stage, writer io.Writer, notifier EntryNotifier, broadcast *streamer.BroadcastQueue, nodeID packet.NodeID, blobRecycler *packet.BlobRecycler, drainTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		stage:        stage,
		writer:       writer,
		notifier:     notifier,
		broadcast:    broadcast,
		nodeID:       nodeID,
		blobRecycler: blobRecycler,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// NewSyncNoBroadcast constructs the validator-mode variant: the writer is
// a sink and there is no broadcast — the only effect of draining is
// register_entry_id (spec §4.4's SyncNoBroadcast variant).
func NewSyncNoBroadcast(stage *accounting.Stage, drainTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		stage:        stage,
		writer:       io.Discard,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// Run drains the accounting stage's output until stop is set.
func (s *Service) Run(stop *atomic.Bool) {
	for {
		e, err := s.recvOne(s.drainTimeout)
		if err != nil {
			if stop.Load() {
				s.logger.Info().Msg("sync service exiting")
				return
			}
			continue
		}

		drained := []entry.Entry{e}
		s.apply(e)

	drain:
		for {
			select {
			case e2, ok := <-s.stage.Output():
				if !ok {
					break drain
				}
				s.apply(e2)
				drained = append(drained, e2)
			default:
				break drain
			}
		}

		if s.broadcast != nil {
			s.packAndBroadcast(drained)
		}
	}
}

func (s *Service) recvOne(timeout time.Duration) (entry.Entry, error) {
	select {
	case e, ok := <-s.stage.Output():
		if !ok {
			return entry.Entry{}, io.EOF
		}
		return e, nil
	case <-time.After(timeout):
		return entry.Entry{}, streamer.ErrTimeout
	}
}

// apply is the per-entry effect described by spec §4.4 steps 1-3.
func (s *Service) apply(e entry.Entry) {
	s.stage.RegisterEntryID(e.ID)
	s.writeEntry(e)
	if s.notifier != nil {
		s.notifier.NotifyEntry(e.Header())
	}
}

// writeEntry appends a canonical text line for e to the append-writer,
// guarded by a lock held only across this one write (spec §5's
// append-writer contract).
func (s *Service) writeEntry(e entry.Entry) {
	line := fmt.Sprintf("%d %x %d\n", e.Seq, e.ID, len(e.Events))

	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if _, err := io.WriteString(s.writer, line); err != nil {
		s.logger.Debug().Err(err).Msg("sync service: append-writer failed")
	}
}

// packAndBroadcast packs this drain pass's entries into blobs and pushes
// them to the broadcaster (spec §4.4's "after a drain pass" step).
func (s *Service) packAndBroadcast(entries []entry.Entry) {
	var blobs []*packet.Blob
	if err := ledger.ProcessEntryListIntoBlobs(entries, s.nodeID, s.nextBlobIndex, s.blobRecycler, &blobs); err != nil {
		s.logger.Error().Err(err).Msg("sync service: failed to pack entries into blobs")
		return
	}
	s.nextBlobIndex += uint64(len(blobs))
	s.broadcast.Send(blobs)
}
