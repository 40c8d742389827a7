package verifier

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
	"github.com/0xkanth/ledger-tpu/pkg/signature"
)

// fakeVerifiable reports valid based on a marker byte so the test can
// control which packets pass without touching real signatures.
type fakeVerifiable struct{ ok bool }

func (f fakeVerifiable) Verify() bool { return f.ok }

func decodeMarker(payload []byte) (signature.Verifiable, error) {
	return fakeVerifiable{ok: len(payload) > 0 && payload[0] == 1}, nil
}

func makePacket(marker byte) *packet.Packet {
	p := &packet.Packet{}
	p.Data[0] = marker
	p.Size = 1
	return p
}

func TestPoolVerifiesAndForwards(t *testing.T) {
	in := streamer.NewBatchQueue[*packet.SharedPackets](4)
	out := streamer.NewBatchQueue[Verified](4)

	logger := zerolog.Nop()
	pool := NewPool(2, in, out, decodeMarker, logger)

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		pool.Run(&stop)
		close(done)
	}()

	batch := &packet.SharedPackets{Packets: []*packet.Packet{makePacket(1), makePacket(0)}}
	in.Send(batch)

	verified, err := out.RecvOne(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0}, verified.SigFlags)

	stop.Store(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not exit after stop flag set")
	}
}
