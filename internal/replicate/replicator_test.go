package replicate

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/ledger"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

func TestReplicatorAppliesReconstructedEntry(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	mint := entry.Pubkey{1}
	stage := accounting.New(mint, 100, genesis, 8)

	tx := &entry.Transaction{From: mint, To: entry.Pubkey{2}, Amount: 30, LastID: genesis}
	e := entry.New(entry.NextHash(genesis), 1, []entry.Event{entry.NewTransactionEvent(tx)})

	blobRecycler := packet.NewBlobRecycler()
	var blobs []*packet.Blob
	require.NoError(t, ledger.ProcessEntryListIntoBlobs([]entry.Entry{e}, packet.NodeID{9}, 0, blobRecycler, &blobs))
	require.Len(t, blobs, 1)

	in := streamer.NewBatchQueue[*packet.Blob](1)
	rep := NewReplicator(in, stage, blobRecycler, zerolog.Nop())

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		rep.Run(&stop)
		close(done)
	}()

	in.Send(blobs[0])

	require.Eventually(t, func() bool {
		balFrom, _ := stage.GetBalance(mint)
		balTo, _ := stage.GetBalance(entry.Pubkey{2})
		return balFrom == 70 && balTo == 30
	}, time.Second, time.Millisecond)

	stop.Store(true)
	<-done
}
