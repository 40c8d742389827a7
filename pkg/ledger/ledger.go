// Package ledger implements the entry<->blob (de)serialization collaborator
// (spec §6): packing a list of entries into one or more blobs for
// broadcast, and reconstructing entries from blobs received off the wire.
package ledger

import (
	"fmt"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// entryBatch is the gob-encoded unit carried by a single blob. The format
// can hold several entries and ReconstructEntriesFromBlobs decodes all of
// them, but ProcessEntryListIntoBlobs always writes exactly one; entries
// never span two blobs, so reconstruction never needs to join partial
// payloads across blobs.
type entryBatch struct {
	NodeID  packet.NodeID
	Entries []entry.Entry
}

// ProcessEntryListIntoBlobs packs entries into blobs acquired from
// recycler, assigning contiguous indices starting at startIndex, and
// appends them to out. Each blob's ID is set to nodeID. The caller owns
// the resulting blobs and is responsible for recycling them once sent.
func ProcessEntryListIntoBlobs(entries []entry.Entry, nodeID packet.NodeID, startIndex uint64, recycler *packet.BlobRecycler, out *[]*packet.Blob) error {
	if len(entries) == 0 {
		return nil
	}

	// One entry per blob keeps the framing simple and matches the
	// invariant that a blob's contents never span a partial entry; batching
	// more than one small entry per blob is a throughput optimization left
	// for a future pass (entries here can be arbitrarily large already,
	// e.g. many events).
	for i, e := range entries {
		b := recycler.Allocate()
		b.Index = startIndex + uint64(i)
		b.ID = nodeID

		payload, err := entry.Encode(entryBatch{NodeID: nodeID, Entries: []entry.Entry{e}})
		if err != nil {
			recycler.Recycle(b)
			return fmt.Errorf("ledger: encode entry %d: %w", e.Seq, err)
		}
		if len(payload) > packet.BlobDataSize {
			recycler.Recycle(b)
			return fmt.Errorf("ledger: entry %d exceeds blob capacity (%d > %d)", e.Seq, len(payload), packet.BlobDataSize)
		}
		b.SetPayload(payload)
		*out = append(*out, b)
	}
	return nil
}

// ReconstructEntriesFromBlobs decodes the entries carried by blobs, in the
// order the blobs are given (callers — i.e. the window stage — are
// responsible for presenting them in strictly increasing index order).
func ReconstructEntriesFromBlobs(blobs []*packet.Blob) ([]entry.Entry, error) {
	entries := make([]entry.Entry, 0, len(blobs))
	for _, b := range blobs {
		batch, err := entry.Decode[entryBatch](b.Payload())
		if err != nil {
			return nil, fmt.Errorf("ledger: decode blob %d: %w", b.Index, err)
		}
		entries = append(entries, batch.Entries...)
	}
	return entries, nil
}
