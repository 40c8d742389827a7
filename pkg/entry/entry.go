// Package entry defines the ordered log record (Entry) and the events it
// carries (signed transactions and timestamp notices), plus the
// content-addressing hash used to chain entries together.
package entry

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hash is a content-addressing digest, used both as an entry's id and as
// the "last id" a transaction cites to prove it was constructed against a
// recent point in the log.
type Hash [32]byte

// Pubkey identifies an account.
type Pubkey [ed25519.PublicKeySize]byte

// HashBytes hashes arbitrary data with the same primitive used to chain
// entries, so callers never need to reach for a second hash function.
func HashBytes(data []byte) Hash {
	return Hash(crypto.Keccak256Hash(data))
}

// NextHash advances a proof-of-history-style hash chain by one tick.
func NextHash(h Hash) Hash {
	return HashBytes(h[:])
}

// Transaction is a signed transfer of value from one account to another,
// citing a recent entry id (LastID) to bound its validity window and
// prevent replay.
type Transaction struct {
	From      Pubkey
	To        Pubkey
	Amount    int64
	LastID    Hash
	Signature [ed25519.SignatureSize]byte
}

// SigningPayload returns the bytes a Transaction's signature is computed
// over.
func (t *Transaction) SigningPayload() []byte {
	buf := make([]byte, 0, len(t.From)+len(t.To)+8+len(t.LastID))
	buf = append(buf, t.From[:]...)
	buf = append(buf, t.To[:]...)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(t.Amount))
	buf = append(buf, amt[:]...)
	buf = append(buf, t.LastID[:]...)
	return buf
}

// Sign fills in t.Signature using priv.
func (t *Transaction) Sign(priv ed25519.PrivateKey) {
	copy(t.Signature[:], ed25519.Sign(priv, t.SigningPayload()))
}

// Verify reports whether t's signature is valid.
func (t *Transaction) Verify() bool {
	return ed25519.Verify(ed25519.PublicKey(t.From[:]), t.SigningPayload(), t.Signature[:])
}

// Timestamp is a signed notice of wall-clock time, used to anchor the
// entry chain to real time without carrying value.
type Timestamp struct {
	From      Pubkey
	At        time.Time
	Signature [ed25519.SignatureSize]byte
}

// SigningPayload returns the bytes a Timestamp's signature is computed over.
func (ts *Timestamp) SigningPayload() []byte {
	buf := make([]byte, 0, len(ts.From)+8)
	buf = append(buf, ts.From[:]...)
	var at [8]byte
	binary.BigEndian.PutUint64(at[:], uint64(ts.At.UnixNano()))
	buf = append(buf, at[:]...)
	return buf
}

// Sign fills in ts.Signature using priv.
func (ts *Timestamp) Sign(priv ed25519.PrivateKey) {
	copy(ts.Signature[:], ed25519.Sign(priv, ts.SigningPayload()))
}

// Verify reports whether ts's signature is valid.
func (ts *Timestamp) Verify() bool {
	return ed25519.Verify(ed25519.PublicKey(ts.From[:]), ts.SigningPayload(), ts.Signature[:])
}

// Query is a read-only balance lookup, served synchronously from
// accounting state rather than ordered through the log.
type Query struct {
	From Pubkey
}

// ClientRequest is the tagged union carried by every inbound packet: it is
// either a signed Transaction or a Query. It implements Verifiable so the
// verifier fan-out can check it uniformly — a Query trivially "verifies"
// since it carries no signature and has no state-mutating effect.
type ClientRequest struct {
	Transaction *Transaction
	Query       *Query
}

// Verify reports whether the request is well-formed: a Transaction must
// carry a valid signature; a Query always passes.
func (r *ClientRequest) Verify() bool {
	switch {
	case r.Transaction != nil:
		return r.Transaction.Verify()
	case r.Query != nil:
		return true
	default:
		return false
	}
}

// Event is either a Transaction or a Timestamp notice. Exactly one of the
// two fields is set.
type Event struct {
	Transaction *Transaction `json:"transaction,omitempty"`
	Timestamp   *Timestamp   `json:"timestamp,omitempty"`
}

// NewTransactionEvent wraps a transaction as an Event.
func NewTransactionEvent(tx *Transaction) Event {
	return Event{Transaction: tx}
}

// NewTimestampEvent wraps a timestamp notice as an Event.
func NewTimestampEvent(ts *Timestamp) Event {
	return Event{Timestamp: ts}
}

// Entry is one record in the ordered log: a content-addressed id, a
// sequence number, and the events it carries.
type Entry struct {
	ID     Hash    `json:"id"`
	Seq    uint64  `json:"seq"`
	Events []Event `json:"events"`
}

// Header is the subset of an Entry's fields delivered to entry-info
// subscribers (id, sequence number, event count) — never the full event
// payload.
type Header struct {
	ID         Hash   `json:"id"`
	Seq        uint64 `json:"seq"`
	EventCount int    `json:"event_count"`
}

// Header returns e's notification header.
func (e Entry) Header() Header {
	return Header{ID: e.ID, Seq: e.Seq, EventCount: len(e.Events)}
}

// New creates an entry chained from prevID, carrying events.
func New(prevID Hash, seq uint64, events []Event) Entry {
	// The entry id advances the chain from prevID by one NextHash tick per
	// event, so entries at different chain positions hash differently. The
	// events' contents are not hashed: two entries built from the same
	// prevID with the same number of events get the same id.
	h := prevID
	for range events {
		h = NextHash(h)
	}
	return Entry{ID: h, Seq: seq, Events: events}
}
