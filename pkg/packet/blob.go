package packet

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// blobHeaderSize is the fixed-size wire header prefixed to every blob
// datagram: an 8-byte big-endian Index followed by the 32-byte NodeID.
// Index and ID are metadata on the Blob struct, not part of the entry
// payload, so they must be framed onto the wire explicitly.
const blobHeaderSize = 8 + 32

// NodeID identifies the node that originated a blob.
type NodeID [32]byte

// Blob is a fixed-capacity buffer carrying one or more serialized entries
// between nodes, framed with a monotonically assigned Index, the
// originating node's ID, and (for outbound blobs) a destination address.
// Obtained from a BlobRecycler and returned to it once consumed.
type Blob struct {
	Data  [BlobDataSize]byte
	Size  int
	Index uint64
	ID    NodeID
	Addr  net.Addr
}

func (b *Blob) reset() {
	b.Size = 0
	b.Index = 0
	b.ID = NodeID{}
	b.Addr = nil
}

// Payload returns the filled portion of the blob buffer.
func (b *Blob) Payload() []byte {
	return b.Data[:b.Size]
}

// SetPayload copies data into the blob buffer and records its length.
// Panics if data exceeds BlobDataSize, mirroring the fixed-capacity
// contract of the original blob buffer.
func (b *Blob) SetPayload(data []byte) {
	n := copy(b.Data[:], data)
	if n < len(data) {
		panic("packet: blob payload exceeds BlobDataSize")
	}
	b.Size = n
}

// WireEncode serializes the blob's Index, ID, and payload into a single
// datagram ready to hand to a UDP socket.
func (b *Blob) WireEncode() []byte {
	out := make([]byte, blobHeaderSize+b.Size)
	binary.BigEndian.PutUint64(out[0:8], b.Index)
	copy(out[8:40], b.ID[:])
	copy(out[blobHeaderSize:], b.Payload())
	return out
}

// WireDecode populates b's Index, ID, and payload from a received
// datagram, as produced by WireEncode.
func (b *Blob) WireDecode(data []byte) error {
	if len(data) < blobHeaderSize {
		return fmt.Errorf("packet: blob datagram too short (%d bytes)", len(data))
	}
	b.Index = binary.BigEndian.Uint64(data[0:8])
	copy(b.ID[:], data[8:40])
	b.SetPayload(data[blobHeaderSize:])
	return nil
}

// BlobRecycler is a synchronized pool of fixed-size Blob buffers.
type BlobRecycler struct {
	pool sync.Pool
}

// NewBlobRecycler returns a ready-to-use BlobRecycler.
func NewBlobRecycler() *BlobRecycler {
	return &BlobRecycler{
		pool: sync.Pool{
			New: func() any { return &Blob{} },
		},
	}
}

// Allocate returns a Blob with Size, Index, ID and Addr cleared, either
// freshly allocated or reused. Data is not cleared.
func (r *BlobRecycler) Allocate() *Blob {
	b := r.pool.Get().(*Blob)
	b.reset()
	return b
}

// Recycle returns a Blob to the pool. The caller must not retain any
// reference to b afterward.
func (r *BlobRecycler) Recycle(b *Blob) {
	if b == nil {
		return
	}
	r.pool.Put(b)
}

// RecycleAll returns every blob in blobs to the recycler.
func (r *BlobRecycler) RecycleAll(blobs []*Blob) {
	for _, b := range blobs {
		r.Recycle(b)
	}
}
