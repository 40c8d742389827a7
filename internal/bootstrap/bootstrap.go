// Package bootstrap provides the ambient stack every TPU binary shares:
// structured logging (zerolog) and layered configuration (koanf, TOML +
// environment overrides), plus the typed Settings a TPU assembly needs.
package bootstrap

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const serviceName = "ledger-tpu"

// InitLogger initializes and returns a zerolog logger. It supports both
// JSON (production) and pretty console (development) output.
func InitLogger() *zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var logger zerolog.Logger
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
	}

	return &logger
}

// InitConfig loads configuration from configPath (TOML) and allows
// environment variable overrides. Environment variables like
// TPU_VERIFIER_WORKERS override verifier.workers.
func InitConfig(logger *zerolog.Logger, configPath string) *koanf.Koanf {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		logger.Fatal().
			Err(err).
			Str("path", configPath).
			Msg("failed to load config file")
	}

	if err := ko.Load(env.Provider("TPU_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "TPU_")
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil); err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to load environment variables")
	}

	logger.Info().
		Str("config_file", configPath).
		Msg("configuration loaded successfully")

	return ko
}

// UpdateLogLevel updates the global log level based on configuration.
func UpdateLogLevel(ko *koanf.Koanf, logger *zerolog.Logger) {
	levelStr := ko.String("logging.level")
	if levelStr == "" {
		levelStr = "info"
	}

	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().
			Str("configured_level", levelStr).
			Str("using_level", "info").
			Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
	logger.Info().
		Str("level", level.String()).
		Msg("log level set")
}

// Settings are the pipeline-tuning knobs spec §9 calls out as fixed in the
// original source but that should be configurable: verifier pool size, the
// sync service's drain timeout, and the window's size and gap-stall
// behavior.
type Settings struct {
	VerifierWorkers  int
	SyncDrainTimeout time.Duration
	WindowSize       int
	WindowGapTimeout time.Duration // 0 means stall forever on a permanent gap
	MetricsAddress   string
	HealthAddress    string
	CheckpointPath   string
	PostgresDSN      string // optional entry archive; empty disables it
	GossipTransport  string // "udp" or "nats"
	NATSUrl          string
}

// LoadSettings reads Settings out of ko, applying the same defaults the
// original hardcoded (4 verifier workers, 1s drain timeout).
func LoadSettings(ko *koanf.Koanf) Settings {
	s := Settings{
		VerifierWorkers:  ko.Int("verifier.workers"),
		SyncDrainTimeout: ko.Duration("sync.drain_timeout"),
		WindowSize:       ko.Int("window.size"),
		WindowGapTimeout: ko.Duration("window.gap_timeout"),
		MetricsAddress:   ko.String("metrics.address"),
		HealthAddress:    ko.String("health.address"),
		CheckpointPath:   ko.String("checkpoint.path"),
		PostgresDSN:      ko.String("archive.postgres_dsn"),
		GossipTransport:  ko.String("gossip.transport"),
		NATSUrl:          ko.String("gossip.nats_url"),
	}
	if s.VerifierWorkers == 0 {
		s.VerifierWorkers = 4
	}
	if s.SyncDrainTimeout == 0 {
		s.SyncDrainTimeout = time.Second
	}
	if s.WindowSize == 0 {
		s.WindowSize = 1024
	}
	if s.GossipTransport == "" {
		s.GossipTransport = "udp"
	}
	return s
}

// isTerminal checks if stdout is a terminal (for pretty console output).
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
