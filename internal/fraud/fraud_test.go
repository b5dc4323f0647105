package fraud

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

const alice state.Principal = "0xalice"

func newTx(enabled bool) *state.Tx {
	snap := state.NewSnapshot()
	snap.Settings = &state.Settings{
		Owner:                 "0xowner",
		FraudDetectionEnabled: enabled,
		MaxTransactionAmount:  1_000_000,
		DailyLimit:            10_000_000,
	}
	return state.NewTx(snap)
}

func TestAssess_Factors(t *testing.T) {
	tx := newTx(true)
	require.NoError(t, period.Record(tx, alice, 10))
	require.NoError(t, period.Record(tx, alice, 10))
	tx.PutSuspicious(alice, state.SuspiciousActivity{Score: 7})

	a, err := Assess(tx, alice, 2_500_000)
	require.NoError(t, err)
	assert.Equal(t, Factors{Base: 25, Frequency: 10, Oversize: 50, History: 7}, a.Factors)
	assert.Equal(t, uint64(92), a.Score)
	assert.False(t, a.Flagged)
}

func TestAssess_SmallAmountScoresZero(t *testing.T) {
	tx := newTx(true)
	score, err := Score(tx, alice, 99_999)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestAssess_DoesNotWrite(t *testing.T) {
	tx := newTx(true)
	_, err := Assess(tx, alice, 50_000_000)
	require.NoError(t, err)
	assert.True(t, tx.Changes().Empty())
}

func TestIsFlagged_Threshold(t *testing.T) {
	tx := newTx(true)
	// 5_000_000/100_000 = 50, plus oversize 50 = 100.
	flagged, err := IsFlagged(tx, alice, 5_000_000)
	require.NoError(t, err)
	assert.True(t, flagged)

	// 4_999_999/100_000 = 49, plus 50 = 99.
	flagged, err = IsFlagged(tx, alice, 4_999_999)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestIsFlagged_DisabledNeverFlags(t *testing.T) {
	tx := newTx(false)
	flagged, err := IsFlagged(tx, alice, 500_000_000)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestScore_MonotoneInAmount(t *testing.T) {
	tx := newTx(true)
	var prev uint64
	for _, amount := range []uint64{0, 1, 99_999, 100_000, 999_999, 1_000_000, 1_000_001, 7_000_000, math.MaxUint64 / 2} {
		s, err := Score(tx, alice, amount)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, prev, "amount %d", amount)
		prev = s
	}
}

func TestScore_MonotoneInCountAndHistory(t *testing.T) {
	tx := newTx(true)
	var prev uint64
	for i := 0; i < 5; i++ {
		s, err := Score(tx, alice, 1000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
		require.NoError(t, period.Record(tx, alice, 1))
	}
	for _, hist := range []uint64{51, 60, 200} {
		tx.PutSuspicious(alice, state.SuspiciousActivity{Score: hist})
		s, err := Score(tx, alice, 1000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestScore_OverflowIsFatal(t *testing.T) {
	tx := newTx(true)
	tx.PutSuspicious(alice, state.SuspiciousActivity{Score: math.MaxUint64})
	_, err := Score(tx, alice, 2_000_000)
	assert.True(t, codes.IsFatal(err))
}

func TestRecordSuspicion(t *testing.T) {
	tx := newTx(true)
	assert.False(t, RecordSuspicion(tx, alice, 50))
	_, ok := tx.Suspicious(alice)
	assert.False(t, ok)

	assert.True(t, RecordSuspicion(tx, alice, 80))
	rec, ok := tx.Suspicious(alice)
	require.True(t, ok)
	assert.Equal(t, state.SuspiciousActivity{Score: 80, LastUpdate: 0}, rec)

	// Overwritten, not accumulated.
	assert.True(t, RecordSuspicion(tx, alice, 60))
	rec, _ = tx.Suspicious(alice)
	assert.Equal(t, uint64(60), rec.Score)
}
