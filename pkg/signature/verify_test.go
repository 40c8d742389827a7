package signature

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

func TestVerifyBatchFlagsValidAndInvalidSignatures(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var from entry.Pubkey
	copy(from[:], pub)

	valid := &entry.Transaction{From: from, Amount: 1, LastID: entry.HashBytes([]byte("x"))}
	valid.Sign(priv)

	invalid := &entry.Transaction{From: from, Amount: 1, LastID: entry.HashBytes([]byte("x"))}
	invalid.Sign(priv)
	invalid.Amount = 999 // tamper after signing

	batch := &packet.SharedPackets{}
	for _, tx := range []*entry.Transaction{valid, invalid} {
		payload, err := entry.Encode(entry.ClientRequest{Transaction: tx})
		require.NoError(t, err)
		p := &packet.Packet{}
		copy(p.Data[:], payload)
		p.Size = len(payload)
		batch.Packets = append(batch.Packets, p)
	}

	flags := VerifyBatch(batch, DecodeClientRequest)
	require.Equal(t, []byte{1, 0}, flags)
}

func TestDecodeClientRequestReportsMalformedPayload(t *testing.T) {
	_, err := DecodeClientRequest([]byte("not a gob stream"))
	require.Error(t, err)
}
