package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/escrow"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

const (
	owner state.Principal = "0x00000000000000000000000000000000000000aa"
	alice state.Principal = "0x00000000000000000000000000000000000000a1"
	bob   state.Principal = "0x00000000000000000000000000000000000000b0"
	carol state.Principal = "0x00000000000000000000000000000000000000c0"
)

func genesis() state.Settings {
	return state.Settings{
		Owner:                 owner,
		FraudDetectionEnabled: true,
		MaxTransactionAmount:  1_000_000,
		DailyLimit:            10_000_000,
	}
}

func newEngine(t *testing.T) (*Engine, *state.Store, *state.MemoryBackend) {
	t.Helper()
	return newEngineFrom(t, state.NewMemoryBackend())
}

func newEngineFrom(t *testing.T, backend *state.MemoryBackend) (*Engine, *state.Store, *state.MemoryBackend) {
	t.Helper()
	store, err := state.Open(context.Background(), backend, genesis())
	require.NoError(t, err)
	return New(store, logging.NewTo(&bytes.Buffer{}, "error", "text")), store, backend
}

func balance(t *testing.T, e *Engine, p state.Principal) uint64 {
	t.Helper()
	b, err := e.GetBalance(context.Background(), p)
	require.NoError(t, err)
	return b
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestDeposit(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, alice, 1000)
	require.NoError(t, err)
	got, err := e.Deposit(ctx, alice, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), got)
	assert.Equal(t, uint64(1500), balance(t, e, alice))

	_, err = e.Deposit(ctx, alice, 0)
	assert.ErrorIs(t, err, codes.ErrInvalidAmount)
	assert.Equal(t, uint64(1500), balance(t, e, alice))
}

func TestSecurePayment_EndToEnd(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, alice, 10_000)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, bob, 5_000)
	require.NoError(t, err)

	r, err := e.SecurePayment(ctx, alice, bob, 1_000)
	require.NoError(t, err)
	assert.Equal(t, alice, r.Sender)
	assert.Equal(t, bob, r.Recipient)
	assert.Equal(t, uint64(1_000), r.Amount)

	assert.Equal(t, uint64(9_000), balance(t, e, alice))
	assert.Equal(t, uint64(6_000), balance(t, e, bob))

	stats, err := e.GetDailyStats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, period.Daily{User: alice, Day: 0, Amount: 1_000, Count: 1}, stats)
}

func TestSecurePayment_SelfPayment(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.SecurePayment(ctx, alice, alice, 10)
	assert.ErrorIs(t, err, codes.ErrInvalidRecipient)

	_, err = e.Deposit(ctx, alice, 100)
	require.NoError(t, err)
	_, err = e.SecurePayment(ctx, alice, alice, 10)
	assert.ErrorIs(t, err, codes.ErrInvalidRecipient)
}

func TestSecurePayment_FrozenAndBlacklisted(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	_, err := e.Deposit(ctx, alice, 10_000)
	require.NoError(t, err)

	require.NoError(t, e.FreezeAccount(ctx, owner, alice))
	frozen, err := e.IsAccountFrozen(ctx, alice)
	require.NoError(t, err)
	assert.True(t, frozen)

	before := counterValue(t, metrics.RejectionsTotal.WithLabelValues(OpSecurePayment, "103", "sender_frozen"))
	_, err = e.SecurePayment(ctx, alice, bob, 100)
	assert.ErrorIs(t, err, codes.ErrFraudDetected)
	code, ok := codes.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, codes.FraudDetected, code)
	after := counterValue(t, metrics.RejectionsTotal.WithLabelValues(OpSecurePayment, "103", "sender_frozen"))
	assert.Equal(t, before+1, after)

	require.NoError(t, e.UnfreezeAccount(ctx, owner, alice))
	require.NoError(t, e.BlacklistAddress(ctx, owner, bob))
	listed, err := e.IsBlacklisted(ctx, bob)
	require.NoError(t, err)
	assert.True(t, listed)

	_, err = e.SecurePayment(ctx, alice, bob, 100)
	assert.ErrorIs(t, err, codes.ErrFraudDetected)

	require.NoError(t, e.WhitelistAddress(ctx, owner, bob))
	_, err = e.SecurePayment(ctx, alice, bob, 100)
	require.NoError(t, err)
}

func TestEscrow_EndToEnd(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, alice, 50_000)
	require.NoError(t, err)

	d, err := e.CreateEscrow(ctx, alice, bob, 10_000, 1)
	require.NoError(t, err)
	key := d.Key()
	assert.Equal(t, state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 1}, key)
	assert.Equal(t, uint64(40_000), balance(t, e, alice))

	got, err := e.GetEscrowDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), got.Amount)
	assert.Equal(t, escrow.StatusLocked, got.Status)
	assert.Equal(t, uint64(10_000), e.Stats().TotalLocked)

	_, err = e.CreateEscrow(ctx, alice, bob, 10_000, 1)
	assert.ErrorIs(t, err, codes.ErrEscrowExists)

	_, err = e.ReleaseEscrow(ctx, carol, key)
	assert.ErrorIs(t, err, codes.ErrUnauthorized)

	d, err = e.ReleaseEscrow(ctx, alice, key)
	require.NoError(t, err)
	assert.True(t, d.Released)
	assert.Equal(t, uint64(10_000), balance(t, e, bob))

	_, err = e.ReleaseEscrow(ctx, alice, key)
	assert.ErrorIs(t, err, codes.ErrEscrowAlreadyReleased)

	// a released key stays taken
	_, err = e.CreateEscrow(ctx, alice, bob, 5_000, 1)
	assert.ErrorIs(t, err, codes.ErrEscrowExists)
	assert.Equal(t, uint64(40_000), balance(t, e, alice))
	assert.Zero(t, e.Stats().TotalLocked)

	_, err = e.GetEscrowDetails(ctx, state.EscrowKey{Sender: alice, Recipient: bob, Nonce: 2})
	assert.ErrorIs(t, err, codes.ErrEscrowNotFound)
}

func TestAdmin(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		day, err := e.AdvanceDayCounter(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), day)
	}
	_, err := e.AdvanceDayCounter(ctx, alice)
	assert.ErrorIs(t, err, codes.ErrUnauthorized)

	enabled, err := e.ToggleFraudDetection(ctx, owner)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, e.UpdateMaxTransactionAmount(ctx, owner, 5_000))
	require.NoError(t, e.UpdateDailyLimit(ctx, owner, 20_000))
	assert.ErrorIs(t, e.UpdateDailyLimit(ctx, alice, 1), codes.ErrUnauthorized)
	assert.ErrorIs(t, e.FreezeAccount(ctx, alice, bob), codes.ErrUnauthorized)

	s, err := e.GetContractSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Settings{
		Owner:                 owner,
		FraudDetectionEnabled: false,
		MaxTransactionAmount:  5_000,
		DailyLimit:            20_000,
		CurrentDay:            5,
	}, s)
}

func TestDailyLimitResetsWithDay(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.UpdateDailyLimit(ctx, owner, 1_000))
	_, err := e.Deposit(ctx, alice, 5_000)
	require.NoError(t, err)

	_, err = e.SecurePayment(ctx, alice, bob, 1_000)
	require.NoError(t, err)
	_, err = e.SecurePayment(ctx, alice, bob, 1)
	assert.ErrorIs(t, err, codes.ErrFraudDetected)

	_, err = e.AdvanceDayCounter(ctx, owner)
	require.NoError(t, err)
	_, err = e.SecurePayment(ctx, alice, bob, 1_000)
	require.NoError(t, err)
}

func TestGetFraudScore(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	a, err := e.GetFraudScore(ctx, alice, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), a.Score)
	assert.Equal(t, uint64(20), a.Factors.Base)
	assert.Equal(t, uint64(50), a.Factors.Oversize)
	assert.False(t, a.Flagged)

	// non-decreasing in amount
	prev := uint64(0)
	for _, amt := range []uint64{0, 1, 99_999, 100_000, 1_000_000, 1_000_001, 50_000_000} {
		a, err := e.GetFraudScore(ctx, alice, amt)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.Score, prev)
		prev = a.Score
	}
}

func TestSuspiciousActivityPersists(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	_, err := e.Deposit(ctx, alice, 9_000_000)
	require.NoError(t, err)

	before := counterValue(t, metrics.SuspiciousFlagsTotal)
	r, err := e.SecurePayment(ctx, alice, bob, 2_000_000)
	require.NoError(t, err)
	assert.True(t, r.Suspicious)
	assert.Equal(t, before+1, counterValue(t, metrics.SuspiciousFlagsTotal))

	// history survives a day change
	_, err = e.AdvanceDayCounter(ctx, owner)
	require.NoError(t, err)
	a, err := e.GetFraudScore(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), a.Factors.History)
}

func TestOverflowIsFatalAndAtomic(t *testing.T) {
	seed := state.NewSnapshot()
	g := genesis()
	seed.Settings = &g
	seed.Balances[alice] = 10
	seed.Balances[bob] = math.MaxUint64

	var logs bytes.Buffer
	store, err := state.Open(context.Background(), state.NewMemoryBackendFrom(seed), genesis())
	require.NoError(t, err)
	e := New(store, logging.NewTo(&logs, "info", "text"))

	_, err = e.SecurePayment(context.Background(), alice, bob, 10)
	require.ErrorIs(t, err, codes.ErrOverflow)
	assert.True(t, codes.IsFatal(err))
	_, hasCode := codes.CodeOf(err)
	assert.False(t, hasCode)

	assert.Equal(t, uint64(10), balance(t, e, alice), "debit must be discarded")
	stats, err := e.GetDailyStats(context.Background(), alice)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Contains(t, logs.String(), "level=ERROR")

	_, err = e.Deposit(context.Background(), bob, 1)
	assert.ErrorIs(t, err, codes.ErrOverflow)
}

func TestBackendFailureDiscardsOperation(t *testing.T) {
	e, _, backend := newEngine(t)
	ctx := context.Background()
	_, err := e.Deposit(ctx, alice, 100)
	require.NoError(t, err)

	backend.FailCommits(errors.New("connection reset"))
	_, err = e.SecurePayment(ctx, alice, bob, 50)
	require.ErrorIs(t, err, state.ErrCommitFailed)
	backend.FailCommits(nil)

	assert.Equal(t, uint64(100), balance(t, e, alice))
	assert.Zero(t, balance(t, e, bob))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var types []string
	store.Subscribe(func(events []state.Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			types = append(types, ev.Type)
		}
	})

	_, err := e.Deposit(ctx, alice, 5_000)
	require.NoError(t, err)
	_, err = e.SecurePayment(ctx, alice, alice, 1)
	require.Error(t, err)
	_, err = e.SecurePayment(ctx, alice, bob, 1_000)
	require.NoError(t, err)
	_, err = e.CreateEscrow(ctx, alice, bob, 100, 9)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventDeposit, EventPayment, EventEscrowCreated}, types)
}

func TestConcurrentPaymentsConserveValue(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.ToggleFraudDetection(ctx, owner)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, alice, 1_000)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, bob, 1_000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = e.SecurePayment(ctx, alice, bob, 3)
		}()
		go func() {
			defer wg.Done()
			_, _ = e.SecurePayment(ctx, bob, alice, 2)
		}()
	}
	wg.Wait()

	a, b := balance(t, e, alice), balance(t, e, bob)
	assert.Equal(t, uint64(2_000), a+b)
	assert.Equal(t, uint64(1_000-300+200), a)

	stats, err := e.GetDailyStats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stats.Count)
}

func TestRejectionLoggedWithCode(t *testing.T) {
	var logs bytes.Buffer
	store, err := state.Open(context.Background(), state.NewMemoryBackend(), genesis())
	require.NoError(t, err)
	e := New(store, logging.NewTo(&logs, "info", "json"))

	ctx := logging.WithRequestID(context.Background(), "req-1")
	_, err = e.SecurePayment(ctx, alice, bob, 0)
	require.ErrorIs(t, err, codes.ErrFraudDetected)

	out := logs.String()
	for _, want := range []string{`"op":"secure_payment"`, `"code":103`, `"rule":"invalid_amount"`, `"request_id":"req-1"`} {
		assert.True(t, strings.Contains(out, want), "missing %s in %s", want, out)
	}
}
