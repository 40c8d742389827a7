// Command tpu-leader runs the serve assembly: the leader side of the TPU
// pipeline, accepting client transactions and queries and broadcasting
// finalized entries to the rest of the cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xkanth/ledger-tpu/internal/archive"
	"github.com/0xkanth/ledger-tpu/internal/bootstrap"
	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/internal/sync"
	"github.com/0xkanth/ledger-tpu/internal/tpu"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
)

// outputCapacity bounds the accounting stage's emitted-entry channel.
const outputCapacity = 1024

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	logger := bootstrap.InitLogger()
	logger.Info().Msg("starting tpu leader")

	cfg := bootstrap.InitConfig(logger, *configPath)
	bootstrap.UpdateLogLevel(cfg, logger)
	settings := bootstrap.LoadSettings(cfg)

	identityPath := cfg.String("node.identity_path")
	pub, _, err := bootstrap.LoadOrCreateIdentity(identityPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load node identity")
	}
	nodeID := bootstrap.NodeID(pub)

	serveAddr, err := net.ResolveUDPAddr("udp", cfg.String("node.serve_addr"))
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.String("node.serve_addr")).Msg("invalid serve_addr")
	}
	gossipAddr, err := net.ResolveUDPAddr("udp", cfg.String("node.gossip_addr"))
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.String("node.gossip_addr")).Msg("invalid gossip_addr")
	}

	mintPubHex := cfg.String("genesis.mint_pubkey")
	var mintPub = bootstrap.Pubkey(pub)
	if mintPubHex != "" {
		mintPub, err = bootstrap.ParsePubkey(mintPubHex)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid genesis.mint_pubkey")
		}
	}
	genesisID, err := bootstrap.ParseHash(cfg.String("genesis.id"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid genesis.id")
	}
	mintBalance := cfg.Int64("genesis.mint_balance")

	stage := accounting.New(mintPub, mintBalance, genesisID, outputCapacity)

	dir := directory.New(directory.Peer{ID: nodeID, GossipAddr: gossipAddr, ServeAddr: serveAddr})
	var peerConfigs []bootstrap.PeerConfig
	if err := cfg.Unmarshal("peers", &peerConfigs); err != nil {
		logger.Warn().Err(err).Msg("failed to parse static peer list")
	}
	seedPeers, err := bootstrap.ResolvePeers(peerConfigs)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid static peer list")
	}
	for _, p := range seedPeers {
		dir.Insert(p)
	}

	var gossipTransport directory.Transport
	if settings.GossipTransport != "" {
		gossipTransport, err = directory.NewTransport(settings.GossipTransport, gossipAddr, settings.NATSUrl, fmt.Sprintf("%x", nodeID), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build gossip transport")
		}
	}

	var archiveWriter *archive.Writer
	var archiveNotifier sync.EntryNotifier
	if settings.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		archiveWriter, err = archive.Open(ctx, settings.PostgresDSN)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open entry archive")
		}
		defer archiveWriter.Close()
		archiveNotifier = archiveWriter
		logger.Info().Msg("entry archive enabled")
	}

	logFile, err := os.OpenFile("leader.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open entry log")
	}
	defer logFile.Close()

	handles, err := tpu.NewServe(tpu.ServeConfig{
		NodeID:           nodeID,
		ServeAddr:        serveAddr,
		Directory:        dir,
		Accounting:       stage,
		EntryWriter:      logFile,
		ArchiveNotifier:  archiveNotifier,
		GossipTransport:  gossipTransport,
		VerifierWorkers:  settings.VerifierWorkers,
		SyncDrainTimeout: settings.SyncDrainTimeout,
		Logger:           *logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start leader assembly")
	}
	logger.Info().
		Str("serve_addr", serveAddr.String()).
		Str("gossip_addr", gossipAddr.String()).
		Int("verifier_workers", settings.VerifierWorkers).
		Msg("leader assembly started")

	metricsServer := &http.Server{Addr: settings.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", settings.MetricsAddress).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthServer := &http.Server{Addr: settings.HealthAddress, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\nsupply: %d\n", stage.TotalSupply())
	})}
	go func() {
		logger.Info().Str("address", settings.HealthAddress).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	handles.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}
