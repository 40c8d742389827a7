package window

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

func blobAt(index uint64) *packet.Blob {
	b := &packet.Blob{Index: index}
	b.SetPayload([]byte{byte(index)})
	return b
}

func TestWindowEmitsStrictlyIncreasing(t *testing.T) {
	in := streamer.NewBatchQueue[*packet.Blob](8)
	out := streamer.NewBatchQueue[*packet.Blob](8)
	retransmit := streamer.NewBatchQueue[*packet.Blob](8)
	recycler := packet.NewBlobRecycler()

	w := New(16, 0, nil, recycler, in, out, retransmit, zerolog.Nop())

	// Out-of-order arrival: 2, 0, 1.
	w.insert(blobAt(2))
	w.insert(blobAt(0))
	w.insert(blobAt(1))

	for i := uint64(0); i < 3; i++ {
		b, err := out.RecvOne(time.Second)
		require.NoError(t, err)
		require.Equal(t, i, b.Index)
	}
}

func TestWindowStallsOnGapWithoutTimeout(t *testing.T) {
	in := streamer.NewBatchQueue[*packet.Blob](8)
	out := streamer.NewBatchQueue[*packet.Blob](8)
	retransmit := streamer.NewBatchQueue[*packet.Blob](8)
	recycler := packet.NewBlobRecycler()

	w := New(16, 0, nil, recycler, in, out, retransmit, zerolog.Nop())

	w.insert(blobAt(1)) // index 0 missing; gapTimeout disabled

	_, err := out.RecvOne(20 * time.Millisecond)
	require.ErrorIs(t, err, streamer.ErrTimeout)
}

func TestWindowSkipsForwardAfterGapTimeout(t *testing.T) {
	in := streamer.NewBatchQueue[*packet.Blob](8)
	out := streamer.NewBatchQueue[*packet.Blob](8)
	retransmit := streamer.NewBatchQueue[*packet.Blob](8)
	recycler := packet.NewBlobRecycler()

	w := New(16, 10*time.Millisecond, nil, recycler, in, out, retransmit, zerolog.Nop())

	w.insert(blobAt(5)) // index 0..4 missing
	time.Sleep(30 * time.Millisecond)
	w.insert(blobAt(6)) // triggers a flush retry, gap has now elapsed

	b, err := out.RecvOne(time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(5), b.Index)
}

func TestWindowCopiesToRetransmit(t *testing.T) {
	in := streamer.NewBatchQueue[*packet.Blob](8)
	out := streamer.NewBatchQueue[*packet.Blob](8)
	retransmit := streamer.NewBatchQueue[*packet.Blob](8)
	recycler := packet.NewBlobRecycler()

	w := New(16, 0, nil, recycler, in, out, retransmit, zerolog.Nop())
	w.insert(blobAt(0))

	rb, err := retransmit.RecvOne(time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rb.Index)
}
