package request

import (
	"crypto/ed25519"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/internal/verifier"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

func packetWithPayload(t *testing.T, v any) *packet.Packet {
	t.Helper()
	payload, err := entry.Encode(v)
	require.NoError(t, err)

	p := &packet.Packet{}
	n := copy(p.Data[:], payload)
	require.Equal(t, len(payload), n)
	p.Size = n
	return p
}

func TestProcessorAppliesTransactionOnSigFlagOne(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var from entry.Pubkey
	copy(from[:], pub)

	genesis := entry.HashBytes([]byte("genesis"))
	stage := accounting.New(from, 100, genesis, 8)

	tx := &entry.Transaction{From: from, To: entry.Pubkey{9}, Amount: 10, LastID: genesis}
	tx.Sign(priv)

	p := packetWithPayload(t, entry.ClientRequest{Transaction: tx})

	in := streamer.NewBatchQueue[verifier.Verified](1)
	out := streamer.NewBatchQueue[*packet.Packet](1)
	recycler := packet.NewRecycler()

	proc := NewProcessor(in, out, recycler, stage, zerolog.Nop())

	batch := &packet.SharedPackets{Packets: []*packet.Packet{p}}
	in.Send(verifier.Verified{Packets: batch, SigFlags: []byte{1}})

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		proc.Run(&stop)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bal, ok := stage.GetBalance(from)
		return ok && bal == 90
	}, time.Second, time.Millisecond)

	stop.Store(true)
	<-done
}

func TestProcessorDropsPacketOnSigFlagZero(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	stage := accounting.New(entry.Pubkey{1}, 100, genesis, 8)

	tx := &entry.Transaction{From: entry.Pubkey{1}, To: entry.Pubkey{2}, Amount: 5, LastID: genesis}
	p := packetWithPayload(t, entry.ClientRequest{Transaction: tx})

	in := streamer.NewBatchQueue[verifier.Verified](1)
	out := streamer.NewBatchQueue[*packet.Packet](1)
	recycler := packet.NewRecycler()

	proc := NewProcessor(in, out, recycler, stage, zerolog.Nop())

	batch := &packet.SharedPackets{Packets: []*packet.Packet{p}}
	in.Send(verifier.Verified{Packets: batch, SigFlags: []byte{0}})

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		proc.Run(&stop)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	bal, _ := stage.GetBalance(entry.Pubkey{1})
	require.Equal(t, int64(100), bal)

	stop.Store(true)
	<-done
}

func TestProcessorAnswersQuery(t *testing.T) {
	from := entry.Pubkey{7}
	genesis := entry.HashBytes([]byte("genesis"))
	stage := accounting.New(from, 42, genesis, 8)

	p := packetWithPayload(t, entry.ClientRequest{Query: &entry.Query{From: from}})

	in := streamer.NewBatchQueue[verifier.Verified](1)
	out := streamer.NewBatchQueue[*packet.Packet](1)
	recycler := packet.NewRecycler()

	proc := NewProcessor(in, out, recycler, stage, zerolog.Nop())

	batch := &packet.SharedPackets{Packets: []*packet.Packet{p}}
	in.Send(verifier.Verified{Packets: batch, SigFlags: []byte{1}})

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		proc.Run(&stop)
		close(done)
	}()

	respPkt, err := out.RecvOne(time.Second)
	require.NoError(t, err)

	resp, err := entry.Decode[balanceResponse](respPkt.Payload())
	require.NoError(t, err)
	require.True(t, resp.Known)
	require.Equal(t, int64(42), resp.Balance)

	stop.Store(true)
	<-done
}
