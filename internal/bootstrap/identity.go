package bootstrap

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// LoadOrCreateIdentity reads a hex-encoded ed25519 private key from path,
// or generates and persists a fresh one if the file doesn't exist yet —
// the same "first run creates it" convenience the original's keypair file
// offers, without requiring an operator to pre-provision one.
func LoadOrCreateIdentity(path string, logger *zerolog.Logger) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		seed, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: decode identity file %s: %w", path, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, nil, fmt.Errorf("bootstrap: identity file %s has wrong seed length %d", path, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		logger.Info().Str("path", path).Msg("loaded node identity")
		return priv.Public().(ed25519.PublicKey), priv, nil
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: generate identity: %w", err)
	}
	seed := priv.Seed()
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to persist generated identity; it will not survive a restart")
	} else {
		logger.Info().Str("path", path).Msg("generated and persisted new node identity")
	}
	return pub, priv, nil
}

// NodeID derives a packet.NodeID from a public key.
func NodeID(pub ed25519.PublicKey) packet.NodeID {
	var id packet.NodeID
	copy(id[:], pub)
	return id
}

// Pubkey derives an entry.Pubkey from a public key.
func Pubkey(pub ed25519.PublicKey) entry.Pubkey {
	var pk entry.Pubkey
	copy(pk[:], pub)
	return pk
}

// ParseHash decodes a hex-encoded 32-byte hash used for genesis/mint
// configuration values. An empty string yields the hash of the literal
// "genesis", giving callers a deterministic non-zero default without
// requiring config.
func ParseHash(hexStr string) (entry.Hash, error) {
	if hexStr == "" {
		return entry.HashBytes([]byte("genesis")), nil
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return entry.Hash{}, fmt.Errorf("bootstrap: decode hash: %w", err)
	}
	if len(raw) != 32 {
		return entry.Hash{}, fmt.Errorf("bootstrap: hash must be 32 bytes, got %d", len(raw))
	}
	var h entry.Hash
	copy(h[:], raw)
	return h, nil
}

// ParseNodeIDHex decodes a hex-encoded node id, as used in static peer
// seed lists.
func ParseNodeIDHex(hexStr string) (packet.NodeID, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return packet.NodeID{}, fmt.Errorf("bootstrap: decode node id: %w", err)
	}
	if len(raw) != len(packet.NodeID{}) {
		return packet.NodeID{}, fmt.Errorf("bootstrap: node id must be %d bytes, got %d", len(packet.NodeID{}), len(raw))
	}
	var id packet.NodeID
	copy(id[:], raw)
	return id, nil
}

// ParsePubkey decodes a hex-encoded ed25519 public key used for
// genesis/mint configuration values.
func ParsePubkey(hexStr string) (entry.Pubkey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return entry.Pubkey{}, fmt.Errorf("bootstrap: decode pubkey: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return entry.Pubkey{}, fmt.Errorf("bootstrap: pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	var pk entry.Pubkey
	copy(pk[:], raw)
	return pk, nil
}
