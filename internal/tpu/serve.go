package tpu

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/internal/request"
	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/internal/sync"
	"github.com/0xkanth/ledger-tpu/internal/verifier"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
	"github.com/0xkanth/ledger-tpu/pkg/signature"
)

// queueCapacity bounds every inter-stage channel created by this package.
// The pipeline itself is not ring-buffered (spec §5); this is only the Go
// channel's buffer, which just absorbs bursty drain timing.
const queueCapacity = 256

// ServeConfig parameterizes the leader assembly.
type ServeConfig struct {
	NodeID     packet.NodeID
	ServeAddr  *net.UDPAddr
	Directory  *directory.Directory
	Accounting *accounting.Stage

	// EntryWriter is the append-only log the sync service writes a
	// canonical text line to per entry (spec §4.4 step 2).
	EntryWriter io.Writer
	// ArchiveNotifier, if non-nil, is fanned the same entry headers the
	// in-process subscriber list receives (e.g. internal/archive.Writer).
	ArchiveNotifier sync.EntryNotifier
	// GossipTransport, if non-nil, is owned by the assembly and drives a
	// Gossip/Listen pair against Directory (spec §9). Nil disables
	// gossip entirely (a single-node or statically-configured directory).
	GossipTransport directory.Transport

	// EventsConn is a reserved interface for a future events socket (spec
	// §9 Open Question). Accepted but never read by NewServe.
	EventsConn net.PacketConn

	VerifierWorkers  int
	SyncDrainTimeout time.Duration
	Logger           zerolog.Logger
}

// ServeHandles exposes the pieces of a running leader assembly a caller
// needs after construction: the request processor (to Subscribe) and the
// assembly itself (to Shutdown).
type ServeHandles struct {
	*Assembly
	Processor *request.Processor
}

// NewServe builds and starts the leader assembly (spec §2's `serve`):
// Receiver → Verifier×N → RequestProcessor → (Responder | AccountingStage)
// → SyncService → Broadcaster.
func NewServe(cfg ServeConfig) (*ServeHandles, error) {
	asm := newAssembly()

	serveConn, err := net.ListenUDP("udp", cfg.ServeAddr)
	if err != nil {
		return nil, fmt.Errorf("tpu: bind serve socket: %w", err)
	}
	asm.own(serveConn)

	// Ephemeral outbound socket for responses, bound on the same
	// interface per spec §6.
	responseConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: cfg.ServeAddr.IP})
	if err != nil {
		return nil, fmt.Errorf("tpu: bind response socket: %w", err)
	}
	asm.own(responseConn)

	broadcastConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: cfg.ServeAddr.IP})
	if err != nil {
		return nil, fmt.Errorf("tpu: bind broadcast socket: %w", err)
	}
	asm.own(broadcastConn)

	packetRecycler := packet.NewRecycler()
	blobRecycler := packet.NewBlobRecycler()

	packetQueue := streamer.NewBatchQueue[*packet.SharedPackets](queueCapacity)
	verifiedQueue := streamer.NewBatchQueue[verifier.Verified](queueCapacity)
	responseQueue := streamer.NewBatchQueue[*packet.Packet](queueCapacity)
	broadcastQueue := streamer.NewBatchQueue[streamer.BlobBatch](queueCapacity)

	receiver := streamer.NewReceiver(serveConn, packetRecycler, packetQueue, cfg.Logger)
	pool := verifier.NewPool(cfg.VerifierWorkers, packetQueue, verifiedQueue, signature.DecodeClientRequest, cfg.Logger)
	processor := request.NewProcessor(verifiedQueue, responseQueue, packetRecycler, cfg.Accounting, cfg.Logger)
	responder := streamer.NewResponder(responseConn, packetRecycler, responseQueue, cfg.Logger)

	var notifier sync.EntryNotifier = processor
	if cfg.ArchiveNotifier != nil {
		notifier = sync.MultiNotifier{processor, cfg.ArchiveNotifier}
	}

	syncSvc := sync.NewSyncService(cfg.Accounting, cfg.EntryWriter, notifier, broadcastQueue, cfg.NodeID, blobRecycler, cfg.SyncDrainTimeout, cfg.Logger)
	broadcaster := streamer.NewBroadcaster(broadcastConn, cfg.Directory, blobRecycler, broadcastQueue, cfg.Logger)

	asm.spawn(receiver.Run)
	asm.spawn(pool.Run)
	asm.spawn(processor.Run)
	asm.spawn(responder.Run)
	asm.spawn(syncSvc.Run)
	asm.spawn(broadcaster.Run)

	if cfg.GossipTransport != nil {
		asm.own(cfg.GossipTransport)
		asm.spawn(func(stop *atomic.Bool) { cfg.Directory.Gossip(cfg.GossipTransport, stop, cfg.Logger) })
		asm.spawn(func(stop *atomic.Bool) { cfg.Directory.Listen(cfg.GossipTransport, stop, cfg.Logger) })
	}

	return &ServeHandles{Assembly: asm, Processor: processor}, nil
}
