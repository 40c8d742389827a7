// Package signature implements the batch signature-verification
// collaborator the verifier fan-out calls into (spec §4.2, §6). It is the
// one place ed25519 (crypto/ed25519, standard library) is used directly:
// no example repo in the corpus ships a batch ed25519 verifier, and
// go-ethereum's signature stack is secp256k1/ECDSA for EVM transactions,
// not ed25519 — see DESIGN.md for the stdlib justification.
package signature

import (
	"sync"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// Verifiable is satisfied by any packet payload that can assert its own
// signature validity once decoded. Decoding a raw packet into a
// Transaction or Query request is the caller's responsibility; Verify
// only batches the signature check itself.
type Verifiable interface {
	Verify() bool
}

// Decoder turns a raw packet payload into something Verifiable, or reports
// decode failure. A decode failure is treated the same as a failed
// signature check (spec §4.10: malformed packets are dropped silently).
type Decoder func(payload []byte) (Verifiable, error)

// VerifyBatch verifies every packet in batch against decode, returning one
// byte per packet: 1 if the packet decoded and its signature is valid, 0
// otherwise. Verification fans out one goroutine per packet, bounded
// implicitly by the batch size (batches are bounded by the streamer's
// read-batch size), joining via sync.WaitGroup — the batch-parallel
// characterization of spec §4.2 without an external crypto collaborator.
func VerifyBatch(batch *packet.SharedPackets, decode Decoder) []byte {
	n := batch.Len()
	flags := make([]byte, n)
	if n == 0 {
		return flags
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i, p := range batch.Packets {
		go func(i int, p *packet.Packet) {
			defer wg.Done()
			v, err := decode(p.Payload())
			if err != nil {
				return
			}
			if v.Verify() {
				flags[i] = 1
			}
		}(i, p)
	}
	wg.Wait()
	return flags
}

// DecodeClientRequest is the Decoder for packets carrying a gob-encoded
// entry.ClientRequest — the wire format every inbound serve-socket packet
// uses, whether it is a transaction or a balance query.
func DecodeClientRequest(payload []byte) (Verifiable, error) {
	req, err := entry.Decode[entry.ClientRequest](payload)
	if err != nil {
		return nil, err
	}
	return req, nil
}
