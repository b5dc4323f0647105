package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/ledger"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

const (
	owner state.Principal = "0xowner"
	alice state.Principal = "0xalice"
	bob   state.Principal = "0xbob"
	carol state.Principal = "0xcarol"
)

func newTx(t *testing.T) *state.Tx {
	t.Helper()
	snap := state.NewSnapshot()
	snap.Settings = &state.Settings{
		Owner:                 owner,
		FraudDetectionEnabled: true,
		MaxTransactionAmount:  1_000_000,
		DailyLimit:            10_000_000,
		CurrentDay:            3,
	}
	tx := state.NewTx(snap)
	require.NoError(t, ledger.Deposit(tx, alice, 50_000))
	return tx
}

func TestCreateAndRelease(t *testing.T) {
	tx := newTx(t)
	key := state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 1}

	d, err := Create(tx, alice, bob, 10_000, 1)
	require.NoError(t, err)
	assert.Equal(t, key, d.Key())
	assert.Equal(t, uint64(10_000), d.Amount)
	assert.Equal(t, uint64(3), d.Timestamp)
	assert.Equal(t, StatusLocked, d.Status)
	assert.Equal(t, uint64(40_000), ledger.Balance(tx, alice))
	assert.Zero(t, ledger.Balance(tx, bob))

	// creation does not count toward the daily aggregate
	assert.Equal(t, state.PeriodStat{}, period.Stats(tx, alice))

	d, err = Release(tx, alice, key)
	require.NoError(t, err)
	assert.True(t, d.Released)
	assert.Equal(t, StatusReleased, d.Status)
	assert.Equal(t, uint64(10_000), ledger.Balance(tx, bob))
	assert.Equal(t, uint64(40_000), ledger.Balance(tx, alice))

	got, ok := Get(tx, key)
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(tx *state.Tx)
		recipient state.Principal
		amount    uint64
		nonce     uint64
		want      error
	}{
		{
			name:      "insufficient balance",
			recipient: bob,
			amount:    50_001,
			want:      codes.ErrInsufficientFunds,
		},
		{
			name:      "balance checked before screening",
			setup:     func(tx *state.Tx) { tx.SetFrozen(alice, true) },
			recipient: bob,
			amount:    60_000,
			want:      codes.ErrInsufficientFunds,
		},
		{
			name:      "frozen sender",
			setup:     func(tx *state.Tx) { tx.SetFrozen(alice, true) },
			recipient: bob,
			amount:    100,
			want:      codes.ErrFraudDetected,
		},
		{
			name:      "blacklisted recipient",
			setup:     func(tx *state.Tx) { tx.SetBlacklisted(bob, true) },
			recipient: bob,
			amount:    100,
			want:      codes.ErrFraudDetected,
		},
		{
			name:      "zero amount",
			recipient: bob,
			amount:    0,
			want:      codes.ErrFraudDetected,
		},
		{
			name: "duplicate key",
			setup: func(tx *state.Tx) {
				tx.PutEscrow(state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 7}, state.Escrow{Amount: 1})
			},
			recipient: bob,
			amount:    100,
			nonce:     7,
			want:      codes.ErrEscrowExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTx(t)
			if tt.setup != nil {
				tt.setup(tx)
			}
			_, err := Create(tx, alice, tt.recipient, tt.amount, tt.nonce)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(50_000), ledger.Balance(tx, alice))
		})
	}
}

func TestCreate_RejectedAfterRelease(t *testing.T) {
	tx := newTx(t)
	key := state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 4}

	_, err := Create(tx, alice, bob, 10_000, 4)
	require.NoError(t, err)
	_, err = Release(tx, alice, key)
	require.NoError(t, err)
	require.Equal(t, uint64(40_000), ledger.Balance(tx, alice))

	_, err = Create(tx, alice, bob, 5_000, 4)
	assert.ErrorIs(t, err, codes.ErrEscrowExists)
	assert.Equal(t, uint64(40_000), ledger.Balance(tx, alice))

	got, ok := Get(tx, key)
	require.True(t, ok)
	assert.Equal(t, uint64(10_000), got.Amount)
	assert.Equal(t, StatusReleased, got.Status)
}

func TestCreate_SameNonceDifferentRecipient(t *testing.T) {
	tx := newTx(t)
	_, err := Create(tx, alice, bob, 100, 1)
	require.NoError(t, err)
	_, err = Create(tx, alice, carol, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(49_800), ledger.Balance(tx, alice))
}

func TestRelease_Errors(t *testing.T) {
	tx := newTx(t)
	key := state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 1}

	_, err := Release(tx, alice, key)
	assert.ErrorIs(t, err, codes.ErrEscrowNotFound)

	_, err = Create(tx, alice, bob, 1_000, 1)
	require.NoError(t, err)

	_, err = Release(tx, bob, key)
	assert.ErrorIs(t, err, codes.ErrUnauthorized, "recipient may not release")
	_, err = Release(tx, "", key)
	assert.ErrorIs(t, err, codes.ErrUnauthorized)

	_, err = Release(tx, owner, key)
	require.NoError(t, err, "owner may release")

	_, err = Release(tx, alice, key)
	assert.ErrorIs(t, err, codes.ErrEscrowAlreadyReleased)
	assert.Equal(t, uint64(1_000), ledger.Balance(tx, bob))
}

func TestRelease_NotRescreened(t *testing.T) {
	tx := newTx(t)
	key := state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 2}
	_, err := Create(tx, alice, bob, 500, 2)
	require.NoError(t, err)

	tx.SetFrozen(alice, true)
	tx.SetBlacklisted(bob, true)

	_, err = Release(tx, alice, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), ledger.Balance(tx, bob))
}

func TestGet_Missing(t *testing.T) {
	tx := newTx(t)
	_, ok := Get(tx, state.EscrowKey{Sender: alice, Recipient: bob})
	assert.False(t, ok)
}
