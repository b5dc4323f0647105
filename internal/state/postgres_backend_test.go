//go:build integration

package state

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/testutil"
)

const (
	pgAlice Principal = "0x00000000000000000000000000000000000000a1"
	pgBob   Principal = "0x00000000000000000000000000000000000000b0"
)

func TestPostgresBackend_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	backend := NewPostgresBackend(db)
	require.NoError(t, backend.Ping(ctx))

	s, err := Open(ctx, backend, genesis())
	require.NoError(t, err)

	key := EscrowKey{Sender: pgAlice, Recipient: pgBob, Nonce: math.MaxUint64}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		tx.SetBalance(pgAlice, math.MaxUint64) // exceeds BIGINT
		tx.SetBalance(pgBob, 7)
		tx.SetFrozen(pgAlice, true)
		tx.SetBlacklisted(pgBob, true)
		tx.PutPeriodStat(PeriodKey{User: pgAlice, Day: 3}, PeriodStat{Amount: 500, Count: 2})
		tx.PutSuspicious(pgAlice, SuspiciousActivity{Score: 75, LastUpdate: 3})
		tx.PutEscrow(key, Escrow{Amount: 10_000, Timestamp: 3})
		settings := tx.Settings()
		settings.CurrentDay = 3
		settings.FraudDetectionEnabled = false
		tx.PutSettings(settings)
		return nil
	}))

	// Removal deletes membership rows
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		tx.SetBlacklisted(pgBob, false)
		esc, _ := tx.Escrow(key)
		esc.Released = true
		tx.PutEscrow(key, esc)
		return nil
	}))

	// A fresh store over the same database sees everything
	reopened, err := Open(ctx, NewPostgresBackend(db), genesis())
	require.NoError(t, err)

	require.NoError(t, reopened.View(ctx, func(tx *Tx) error {
		assert.Equal(t, uint64(math.MaxUint64), tx.Balance(pgAlice))
		assert.Equal(t, uint64(7), tx.Balance(pgBob))
		assert.True(t, tx.IsFrozen(pgAlice))
		assert.False(t, tx.IsBlacklisted(pgBob))

		stat, ok := tx.PeriodStat(PeriodKey{User: pgAlice, Day: 3})
		assert.True(t, ok)
		assert.Equal(t, PeriodStat{Amount: 500, Count: 2}, stat)

		sus, ok := tx.Suspicious(pgAlice)
		assert.True(t, ok)
		assert.Equal(t, uint64(75), sus.Score)

		esc, ok := tx.Escrow(key)
		assert.True(t, ok)
		assert.Equal(t, Escrow{Amount: 10_000, Timestamp: 3, Released: true}, esc)

		settings := tx.Settings()
		assert.Equal(t, owner, settings.Owner)
		assert.Equal(t, uint64(3), settings.CurrentDay)
		assert.False(t, settings.FraudDetectionEnabled)
		return nil
	}))

	var blacklisted int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklisted_addresses`).Scan(&blacklisted))
	assert.Zero(t, blacklisted)
}

func TestPostgresBackend_OwnerMismatch(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	_, err := Open(ctx, NewPostgresBackend(db), genesis())
	require.NoError(t, err)

	other := genesis()
	other.Owner = pgBob
	_, err = Open(ctx, NewPostgresBackend(db), other)
	assert.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestPostgresBackend_FailedUpdateWritesNothing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s, err := Open(ctx, NewPostgresBackend(db), genesis())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Update(ctx, func(tx *Tx) error {
		tx.SetBalance(pgAlice, 100)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balances`).Scan(&rows))
	assert.Zero(t, rows)
}
