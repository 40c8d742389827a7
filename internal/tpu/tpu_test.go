package tpu

import (
	"bytes"
	"crypto/ed25519"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/internal/directory"
	"github.com/0xkanth/ledger-tpu/internal/tputest"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/ledger"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

// safeBuffer lets a test goroutine read the append-log while the sync
// service's own goroutine is still writing to it.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func keypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, entry.Pubkey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk entry.Pubkey
	copy(pk[:], pub)
	return pub, priv, pk
}

func signedTxRequestBytes(t *testing.T, priv ed25519.PrivateKey, from, to entry.Pubkey, amount int64, lastID entry.Hash) []byte {
	t.Helper()
	tx := &entry.Transaction{From: from, To: to, Amount: amount, LastID: lastID}
	tx.Sign(priv)
	payload, err := entry.Encode(entry.ClientRequest{Transaction: tx})
	require.NoError(t, err)
	return payload
}

func dialAndSend(t *testing.T, addr *net.UDPAddr, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestS1LeaderRoundTripOneTransfer(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	_, alicePriv, alicePub := keypair(t)
	_, _, bobPub := keypair(t)

	genesis := entry.HashBytes([]byte("s1-genesis"))
	stage := accounting.New(alicePub, 10_000, genesis, 16)

	dir := directory.New(node.Peer())

	// A raw socket standing in for a peer, so the broadcaster has
	// somewhere to send — "at least one entry broadcast" needs an
	// observable receiver.
	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer peerConn.Close()
	dir.Insert(directory.Peer{ID: packet.NodeID{9}, ReplicateAddr: peerConn.LocalAddr().(*net.UDPAddr)})

	var log safeBuffer
	handles, err := NewServe(ServeConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		Directory:        dir,
		Accounting:       stage,
		EntryWriter:      &log,
		VerifierWorkers:  4,
		SyncDrainTimeout: 50 * time.Millisecond,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)
	defer handles.Shutdown()

	dialAndSend(t, node.ServeAddr, signedTxRequestBytes(t, alicePriv, alicePub, bobPub, 501, genesis))

	require.Eventually(t, func() bool {
		a, _ := stage.GetBalance(alicePub)
		b, _ := stage.GetBalance(bobPub)
		return a == 9_499 && b == 501
	}, 3*time.Second, 10*time.Millisecond)

	peerConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64*1024)
	n, _, err := peerConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	require.Equal(t, 1, strings.Count(log.String(), "\n"))
}

func TestS2ValidatorAppliesLeaderProducedBlobs(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	_, _, alicePub := keypair(t)
	_, _, bobPub := keypair(t)
	genesis := entry.HashBytes([]byte("s2-genesis"))
	stage := accounting.New(alicePub, 10_000, genesis, 16)

	dir := directory.New(node.Peer())

	handles, err := NewReplicate(ReplicateConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		ReplicateAddr:    node.ReplicateAddr,
		Directory:        dir,
		Accounting:       stage,
		VerifierWorkers:  4,
		SyncDrainTimeout: 50 * time.Millisecond,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)
	defer handles.Shutdown()

	blobs := buildLeaderBlobs(t, alicePub, bobPub, genesis, 10)
	sendBlobsInOrder(t, node.ReplicateAddr, blobs)

	require.Eventually(t, func() bool {
		a, _ := stage.GetBalance(alicePub)
		b, _ := stage.GetBalance(bobPub)
		return a == 10_000-10*501 && b == 10*501
	}, 3*time.Second, 10*time.Millisecond)
}

func TestS3OutOfOrderBlobDelivery(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	_, _, alicePub := keypair(t)
	_, _, bobPub := keypair(t)
	genesis := entry.HashBytes([]byte("s3-genesis"))
	stage := accounting.New(alicePub, 10_000, genesis, 16)

	dir := directory.New(node.Peer())

	retransmitPeerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer retransmitPeerConn.Close()
	dir.Insert(directory.Peer{ID: packet.NodeID{9}, ReplicateAddr: retransmitPeerConn.LocalAddr().(*net.UDPAddr)})

	handles, err := NewReplicate(ReplicateConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		ReplicateAddr:    node.ReplicateAddr,
		Directory:        dir,
		Accounting:       stage,
		VerifierWorkers:  4,
		SyncDrainTimeout: 50 * time.Millisecond,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)
	defer handles.Shutdown()

	blobs := buildLeaderBlobs(t, alicePub, bobPub, genesis, 10)
	for i, j := 0, len(blobs)-1; i < j; i, j = i+1, j-1 {
		blobs[i], blobs[j] = blobs[j], blobs[i]
	}
	sendBlobsInOrder(t, node.ReplicateAddr, blobs)

	require.Eventually(t, func() bool {
		a, _ := stage.GetBalance(alicePub)
		b, _ := stage.GetBalance(bobPub)
		return a == 10_000-10*501 && b == 10*501
	}, 3*time.Second, 10*time.Millisecond)

	observed := 0
	retransmitPeerConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64*1024)
	for observed < 10 {
		n, _, err := retransmitPeerConn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if n > 0 {
			observed++
		}
	}
	require.Equal(t, 10, observed)
}

func TestS4InvalidSignatureIsolated(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	_, mintPriv, mintPub := keypair(t)
	_, _, bobPub := keypair(t)

	genesis := entry.HashBytes([]byte("s4-genesis"))
	lastIDs := []entry.Hash{genesis, entry.HashBytes([]byte("s4-1")), entry.HashBytes([]byte("s4-2")), entry.HashBytes([]byte("s4-3"))}

	stage := accounting.New(mintPub, 10_000, genesis, 16)
	for _, id := range lastIDs[1:] {
		stage.RegisterEntryID(id)
	}

	dir := directory.New(node.Peer())

	var log safeBuffer
	handles, err := NewServe(ServeConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		Directory:        dir,
		Accounting:       stage,
		EntryWriter:      &log,
		VerifierWorkers:  4,
		SyncDrainTimeout: 50 * time.Millisecond,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)
	defer handles.Shutdown()

	conn, err := net.DialUDP("udp", nil, node.ServeAddr)
	require.NoError(t, err)
	defer conn.Close()

	for i, id := range lastIDs {
		payload := signedTxRequestBytes(t, mintPriv, mintPub, bobPub, 100, id)
		if i == 2 {
			// Corrupt packet 2's signature.
			var req entry.ClientRequest
			decoded, derr := entry.Decode[entry.ClientRequest](payload)
			require.NoError(t, derr)
			req = *decoded
			req.Transaction.Signature[0] ^= 0xFF
			payload, err = entry.Encode(req)
			require.NoError(t, err)
		}
		_, err := conn.Write(payload)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		bal, _ := stage.GetBalance(mintPub)
		return bal == 10_000-300 // packets 0,1,3 applied; packet 2 rejected
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, 3, strings.Count(log.String(), "\n"))
}

func TestS5ShutdownDuringIdle(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	genesis := entry.HashBytes([]byte("s5-genesis"))
	stage := accounting.New(entry.Pubkey{1}, 1, genesis, 4)
	dir := directory.New(node.Peer())

	handles, err := NewServe(ServeConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		Directory:        dir,
		Accounting:       stage,
		EntryWriter:      &safeBuffer{},
		VerifierWorkers:  4,
		SyncDrainTimeout: time.Second,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	done := make(chan struct{})
	go func() {
		handles.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("assembly did not shut down within 5s")
	}
}

func TestS6DoubleSpendAcrossAdjacentTransactions(t *testing.T) {
	node, err := tputest.NewNode()
	require.NoError(t, err)

	_, alicePriv, alicePub := keypair(t)
	_, _, bobPub := keypair(t)
	genesis := entry.HashBytes([]byte("s6-genesis"))
	stage := accounting.New(alicePub, 10, genesis, 4)
	dir := directory.New(node.Peer())

	handles, err := NewServe(ServeConfig{
		NodeID:           node.ID,
		ServeAddr:        node.ServeAddr,
		Directory:        dir,
		Accounting:       stage,
		EntryWriter:      &safeBuffer{},
		VerifierWorkers:  4,
		SyncDrainTimeout: 50 * time.Millisecond,
		Logger:           tputest.NopLogger(),
	})
	require.NoError(t, err)
	defer handles.Shutdown()

	conn, err := net.DialUDP("udp", nil, node.ServeAddr)
	require.NoError(t, err)
	defer conn.Close()

	payload := signedTxRequestBytes(t, alicePriv, alicePub, bobPub, 8, genesis)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := stage.GetBalance(alicePub)
		b, _ := stage.GetBalance(bobPub)
		return a == 2 && b == 8
	}, 3*time.Second, 10*time.Millisecond)
}

func buildLeaderBlobs(t *testing.T, alice, bob entry.Pubkey, genesis entry.Hash, count int) []*packet.Blob {
	t.Helper()
	recycler := packet.NewBlobRecycler()

	var entries []entry.Entry
	prev := genesis
	for i := 0; i < count; i++ {
		ts := &entry.Timestamp{From: alice, At: time.Now()}
		tx := &entry.Transaction{From: alice, To: bob, Amount: 501, LastID: prev}
		e := entry.New(prev, uint64(i+1), []entry.Event{entry.NewTimestampEvent(ts), entry.NewTransactionEvent(tx)})
		entries = append(entries, e)
		prev = e.ID
	}

	var blobs []*packet.Blob
	require.NoError(t, ledger.ProcessEntryListIntoBlobs(entries, packet.NodeID{42}, 0, recycler, &blobs))
	return blobs
}

func sendBlobsInOrder(t *testing.T, addr *net.UDPAddr, blobs []*packet.Blob) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()

	for _, b := range blobs {
		_, err := conn.Write(b.WireEncode())
		require.NoError(t, err)
	}
}

var _ = zerolog.Nop
