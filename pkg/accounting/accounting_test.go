package accounting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
)

func pk(b byte) entry.Pubkey {
	var p entry.Pubkey
	p[0] = b
	return p
}

func TestApplyTransactionConservesSupply(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 1000, genesis, 4)

	require.NoError(t, stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 300, LastID: genesis}))

	aliceBal, _ := stage.GetBalance(alice)
	bobBal, _ := stage.GetBalance(bob)
	require.Equal(t, int64(700), aliceBal)
	require.Equal(t, int64(300), bobBal)
	require.Equal(t, int64(1000), stage.TotalSupply())
}

func TestApplyTransactionRejectsUnknownLastID(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 1000, genesis, 4)

	unknown := entry.HashBytes([]byte("never registered"))
	err := stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 1, LastID: unknown})
	require.ErrorIs(t, err, ErrUnknownLastID)
}

func TestApplyTransactionRejectsDoubleSpend(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 10, genesis, 4)

	require.NoError(t, stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 8, LastID: genesis}))
	err := stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 8, LastID: genesis})
	require.ErrorIs(t, err, ErrDuplicateLastID)

	aliceBal, _ := stage.GetBalance(alice)
	bobBal, _ := stage.GetBalance(bob)
	require.Equal(t, int64(2), aliceBal)
	require.Equal(t, int64(8), bobBal)
}

func TestApplyTransactionRejectsInsufficientFunds(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 5, genesis, 4)

	err := stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 6, LastID: genesis})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestRegisterEntryIDIsIdempotent(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 10, genesis, 4)

	id := entry.HashBytes([]byte("some entry"))
	stage.RegisterEntryID(id)
	stage.RegisterEntryID(id)

	require.NoError(t, stage.ApplyTransaction(&entry.Transaction{From: alice, To: bob, Amount: 1, LastID: id}))
}

func TestProcessVerifiedEntriesAppliesTransfersOnce(t *testing.T) {
	genesis := entry.HashBytes([]byte("genesis"))
	alice, bob := pk(1), pk(2)
	stage := New(alice, 1000, genesis, 4)

	tx := &entry.Transaction{From: alice, To: bob, Amount: 100, LastID: genesis}
	e := entry.New(genesis, 1, []entry.Event{entry.NewTransactionEvent(tx)})

	require.NoError(t, stage.ProcessVerifiedEntries([]entry.Entry{e}))
	require.NoError(t, stage.ProcessVerifiedEntries([]entry.Entry{e})) // redelivery is a no-op

	aliceBal, _ := stage.GetBalance(alice)
	bobBal, _ := stage.GetBalance(bob)
	require.Equal(t, int64(900), aliceBal)
	require.Equal(t, int64(100), bobBal)
}
