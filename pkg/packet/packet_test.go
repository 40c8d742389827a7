package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecyclerAllocateResetsPacket(t *testing.T) {
	r := NewRecycler()
	p := r.Allocate()
	p.Size = 10
	p.Data[0] = 0xFF
	r.Recycle(p)

	p2 := r.Allocate()
	require.Equal(t, 0, p2.Size)
	require.Nil(t, p2.Addr)
}

func TestBlobWireEncodeDecodeRoundTrip(t *testing.T) {
	recycler := NewBlobRecycler()
	b := recycler.Allocate()
	b.Index = 42
	b.ID = NodeID{1, 2, 3}
	b.SetPayload([]byte("hello entry"))

	wire := b.WireEncode()

	decoded := recycler.Allocate()
	require.NoError(t, decoded.WireDecode(wire))
	require.Equal(t, uint64(42), decoded.Index)
	require.Equal(t, NodeID{1, 2, 3}, decoded.ID)
	require.Equal(t, []byte("hello entry"), decoded.Payload())
}

func TestBlobWireDecodeRejectsShortDatagram(t *testing.T) {
	b := &Blob{}
	err := b.WireDecode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestBlobRecyclerRecycleAll(t *testing.T) {
	recycler := NewBlobRecycler()
	blobs := []*Blob{recycler.Allocate(), recycler.Allocate()}
	recycler.RecycleAll(blobs) // must not panic
}
