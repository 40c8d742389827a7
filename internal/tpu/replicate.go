package tpu

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/internal/replicate"
	"github.com/0xkanth/ledger-tpu/internal/request"
	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/internal/sync"
	"github.com/0xkanth/ledger-tpu/internal/verifier"
	"github.com/0xkanth/ledger-tpu/internal/window"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
	"github.com/0xkanth/ledger-tpu/pkg/signature"
)

// ReplicateConfig parameterizes the validator assembly.
type ReplicateConfig struct {
	NodeID        packet.NodeID
	ServeAddr     *net.UDPAddr
	ReplicateAddr *net.UDPAddr
	Directory     *directory.Directory
	Accounting    *accounting.Stage
	Checkpoint    window.Checkpoint // nil disables position persistence
	// GossipTransport, if non-nil, is owned by the assembly and drives a
	// Gossip/Listen pair against Directory (spec §9).
	GossipTransport directory.Transport

	WindowSize       int
	WindowGapTimeout time.Duration
	VerifierWorkers  int
	SyncDrainTimeout time.Duration
	Logger           zerolog.Logger
}

// ReplicateHandles exposes the running validator assembly's
// query-serving processor alongside the assembly's lifecycle controls.
type ReplicateHandles struct {
	*Assembly
	Processor *request.Processor
}

// NewReplicate builds and starts the validator assembly (spec §2's
// `replicate`): BlobReceiver → Window → (Replicator | Retransmitter), plus
// a full serve-side path and a SyncNoBroadcast drain. The serve-side
// processor answers queries and also applies validly signed transactions
// to the local accounting stage; it is not restricted to read-only traffic.
func NewReplicate(cfg ReplicateConfig) (*ReplicateHandles, error) {
	asm := newAssembly()

	replicateConn, err := net.ListenUDP("udp", cfg.ReplicateAddr)
	if err != nil {
		return nil, fmt.Errorf("tpu: bind replicate socket: %w", err)
	}
	asm.own(replicateConn)

	retransmitConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: cfg.ReplicateAddr.IP})
	if err != nil {
		return nil, fmt.Errorf("tpu: bind retransmit socket: %w", err)
	}
	asm.own(retransmitConn)

	serveConn, err := net.ListenUDP("udp", cfg.ServeAddr)
	if err != nil {
		return nil, fmt.Errorf("tpu: bind serve socket: %w", err)
	}
	asm.own(serveConn)

	responseConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: cfg.ServeAddr.IP})
	if err != nil {
		return nil, fmt.Errorf("tpu: bind response socket: %w", err)
	}
	asm.own(responseConn)

	packetRecycler := packet.NewRecycler()
	blobRecycler := packet.NewBlobRecycler()

	blobInQueue := streamer.NewBatchQueue[*packet.Blob](queueCapacity)
	windowOutQueue := streamer.NewBatchQueue[*packet.Blob](queueCapacity)
	retransmitQueue := streamer.NewBatchQueue[*packet.Blob](queueCapacity)

	blobReceiver := streamer.NewBlobReceiver(replicateConn, blobRecycler, blobInQueue, cfg.Logger)
	win := window.New(cfg.WindowSize, cfg.WindowGapTimeout, cfg.Checkpoint, blobRecycler, blobInQueue, windowOutQueue, retransmitQueue, cfg.Logger)
	replicator := replicate.NewReplicator(windowOutQueue, cfg.Accounting, blobRecycler, cfg.Logger)
	retransmitter := streamer.NewRetransmitter(retransmitConn, cfg.Directory, blobRecycler, retransmitQueue, cfg.Logger)

	packetQueue := streamer.NewBatchQueue[*packet.SharedPackets](queueCapacity)
	verifiedQueue := streamer.NewBatchQueue[verifier.Verified](queueCapacity)
	responseQueue := streamer.NewBatchQueue[*packet.Packet](queueCapacity)

	receiver := streamer.NewReceiver(serveConn, packetRecycler, packetQueue, cfg.Logger)
	pool := verifier.NewPool(cfg.VerifierWorkers, packetQueue, verifiedQueue, signature.DecodeClientRequest, cfg.Logger)
	processor := request.NewProcessor(verifiedQueue, responseQueue, packetRecycler, cfg.Accounting, cfg.Logger)
	responder := streamer.NewResponder(responseConn, packetRecycler, responseQueue, cfg.Logger)

	syncSvc := sync.NewSyncNoBroadcast(cfg.Accounting, cfg.SyncDrainTimeout, cfg.Logger)

	asm.spawn(blobReceiver.Run)
	asm.spawn(win.Run)
	asm.spawn(replicator.Run)
	asm.spawn(retransmitter.Run)
	asm.spawn(receiver.Run)
	asm.spawn(pool.Run)
	asm.spawn(processor.Run)
	asm.spawn(responder.Run)
	asm.spawn(syncSvc.Run)

	if cfg.GossipTransport != nil {
		asm.own(cfg.GossipTransport)
		asm.spawn(func(stop *atomic.Bool) { cfg.Directory.Gossip(cfg.GossipTransport, stop, cfg.Logger) })
		asm.spawn(func(stop *atomic.Bool) { cfg.Directory.Listen(cfg.GossipTransport, stop, cfg.Logger) })
	}

	return &ReplicateHandles{Assembly: asm, Processor: processor}, nil
}
