// Package packet defines the fixed-capacity, recyclable buffers that carry
// transactions and queries (Packet) and serialized entries (Blob) through
// the TPU pipeline.
package packet

import (
	"net"
	"sync"
)

// DataSize is the fixed capacity of a packet payload. Matches a conservative
// UDP datagram size that avoids IP fragmentation on typical MTUs.
const DataSize = 1280

// BlobDataSize is the fixed capacity of a blob payload. Larger than a
// packet since a blob carries one or more serialized entries.
const BlobDataSize = 64 * 1024

// Packet is a single serialized transaction or query plus its peer address.
// Obtained from a Recycler and returned to it once consumed.
type Packet struct {
	Data [DataSize]byte
	Size int
	Addr net.Addr
}

func (p *Packet) reset() {
	p.Size = 0
	p.Addr = nil
}

// Payload returns the filled portion of the packet buffer.
func (p *Packet) Payload() []byte {
	return p.Data[:p.Size]
}

// SharedPackets is a batch of packets addressed through one handle so
// multiple pipeline stages can observe the same batch without copying its
// payload. The slice itself is never mutated concurrently; only individual
// Packet fields are, and only by the stage that currently owns the batch.
type SharedPackets struct {
	Packets []*Packet
}

// Len reports the number of packets in the batch.
func (s *SharedPackets) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Packets)
}

// Recycler is a synchronized pool of fixed-size Packet buffers.
type Recycler struct {
	pool sync.Pool
}

// NewRecycler returns a ready-to-use packet Recycler.
func NewRecycler() *Recycler {
	return &Recycler{
		pool: sync.Pool{
			New: func() any { return &Packet{} },
		},
	}
}

// Allocate returns a Packet with Size and Addr cleared, either freshly
// allocated or reused from the pool. Data is not cleared; a reused packet
// keeps the bytes its previous user wrote.
func (r *Recycler) Allocate() *Packet {
	p := r.pool.Get().(*Packet)
	p.reset()
	return p
}

// Recycle returns a Packet to the pool. The caller must not retain any
// reference to p afterward.
func (r *Recycler) Recycle(p *Packet) {
	if p == nil {
		return
	}
	r.pool.Put(p)
}

// AllocateBatch returns n packets from the recycler, wrapped in a
// SharedPackets batch.
func (r *Recycler) AllocateBatch(n int) *SharedPackets {
	pkts := make([]*Packet, n)
	for i := range pkts {
		pkts[i] = r.Allocate()
	}
	return &SharedPackets{Packets: pkts}
}

// RecycleBatch returns every packet in a batch to the recycler.
func (r *Recycler) RecycleBatch(batch *SharedPackets) {
	if batch == nil {
		return
	}
	for _, p := range batch.Packets {
		r.Recycle(p)
	}
}
