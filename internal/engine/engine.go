// Package engine is the public operation surface of the ledger.
//
// Every mutating method runs as exactly one state.Store.Update: all checks
// and writes happen against a buffered transaction, and nothing is visible
// to other callers unless the whole operation succeeds and the backend
// accepts the commit. Reads run under state.Store.View.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/mbd888/sentinel/internal/admin"
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/escrow"
	"github.com/mbd888/sentinel/internal/fraud"
	"github.com/mbd888/sentinel/internal/identity"
	"github.com/mbd888/sentinel/internal/ledger"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/payment"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/screening"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/traces"
)

// Event types published to state listeners after commit.
const (
	EventDeposit            = "deposit"
	EventPayment            = "payment"
	EventSuspiciousActivity = "suspicious_activity"
	EventEscrowCreated      = "escrow_created"
	EventEscrowReleased     = "escrow_released"
	EventAccountFrozen      = "account_frozen"
	EventAccountUnfrozen    = "account_unfrozen"
	EventAddressBlacklisted = "address_blacklisted"
	EventAddressWhitelisted = "address_whitelisted"
	EventSettingsChanged    = "settings_changed"
	EventDayAdvanced        = "day_advanced"
)

// Operation names used in logs, metrics, and spans.
const (
	OpDeposit              = "deposit"
	OpSecurePayment        = "secure_payment"
	OpCreateEscrow         = "create_escrow"
	OpReleaseEscrow        = "release_escrow"
	OpFreezeAccount        = "freeze_account"
	OpUnfreezeAccount      = "unfreeze_account"
	OpBlacklistAddress     = "blacklist_address"
	OpWhitelistAddress     = "whitelist_address"
	OpToggleFraudDetection = "toggle_fraud_detection"
	OpAdvanceDay           = "advance_day_counter"
	OpUpdateMaxTransaction = "update_max_transaction_amount"
	OpUpdateDailyLimit     = "update_daily_limit"
)

// AccountEvent is the payload of registry change events.
type AccountEvent struct {
	Account state.Principal `json:"account"`
	By      state.Principal `json:"by"`
}

// DepositEvent is the payload of EventDeposit.
type DepositEvent struct {
	Account state.Principal `json:"account"`
	Amount  uint64          `json:"amount"`
	Balance uint64          `json:"balance"`
}

// SuspicionEvent is the payload of EventSuspiciousActivity.
type SuspicionEvent struct {
	User  state.Principal `json:"user"`
	Score uint64          `json:"score"`
	Day   uint64          `json:"day"`
}

// Engine executes ledger operations against a state.Store.
type Engine struct {
	store  *state.Store
	logger *slog.Logger
}

// New creates an engine over store.
func New(store *state.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Deposit credits amount to the caller and returns the new balance.
func (e *Engine) Deposit(ctx context.Context, caller state.Principal, amount uint64) (uint64, error) {
	var balance uint64
	err := e.update(ctx, OpDeposit, caller, []attribute.KeyValue{traces.Amount(amount)}, func(tx *state.Tx) error {
		if err := ledger.Deposit(tx, caller, amount); err != nil {
			return err
		}
		balance = ledger.Balance(tx, caller)
		tx.Emit(EventDeposit, DepositEvent{Account: caller, Amount: amount, Balance: balance})
		return nil
	})
	return balance, err
}

// SecurePayment screens and executes a payment from caller to recipient.
func (e *Engine) SecurePayment(ctx context.Context, caller, recipient state.Principal, amount uint64) (payment.Receipt, error) {
	var receipt payment.Receipt
	attrs := []attribute.KeyValue{
		traces.Principal("recipient", string(recipient)),
		traces.Amount(amount),
	}
	err := e.update(ctx, OpSecurePayment, caller, attrs, func(tx *state.Tx) error {
		r, err := payment.SecurePayment(tx, caller, recipient, amount)
		if err != nil {
			return err
		}
		receipt = r
		tx.Emit(EventPayment, r)
		if r.Suspicious {
			tx.Emit(EventSuspiciousActivity, SuspicionEvent{User: caller, Score: r.PostScore, Day: period.CurrentDay(tx)})
		}
		return nil
	})
	if err == nil && receipt.Suspicious {
		metrics.SuspiciousFlagsTotal.Inc()
		logging.With(ctx, e.logger).Warn("suspicious activity recorded",
			"user", string(caller),
			"score", receipt.PostScore,
		)
	}
	return receipt, err
}

// CreateEscrow locks amount from caller for recipient under nonce.
func (e *Engine) CreateEscrow(ctx context.Context, caller, recipient state.Principal, amount, nonce uint64) (escrow.Details, error) {
	var d escrow.Details
	attrs := []attribute.KeyValue{
		traces.Principal("recipient", string(recipient)),
		traces.Amount(amount),
		traces.Nonce(nonce),
	}
	err := e.update(ctx, OpCreateEscrow, caller, attrs, func(tx *state.Tx) error {
		var err error
		if d, err = escrow.Create(tx, caller, recipient, amount, nonce); err != nil {
			return err
		}
		tx.Emit(EventEscrowCreated, d)
		return nil
	})
	return d, err
}

// ReleaseEscrow pays out the escrow at key to its recipient.
func (e *Engine) ReleaseEscrow(ctx context.Context, caller state.Principal, key state.EscrowKey) (escrow.Details, error) {
	var d escrow.Details
	attrs := []attribute.KeyValue{
		traces.Principal("sender", string(key.Sender)),
		traces.Principal("recipient", string(key.Recipient)),
		traces.Nonce(key.Nonce),
	}
	err := e.update(ctx, OpReleaseEscrow, caller, attrs, func(tx *state.Tx) error {
		var err error
		if d, err = escrow.Release(tx, caller, key); err != nil {
			return err
		}
		tx.Emit(EventEscrowReleased, d)
		return nil
	})
	return d, err
}

func (e *Engine) FreezeAccount(ctx context.Context, caller, account state.Principal) error {
	return e.registry(ctx, OpFreezeAccount, EventAccountFrozen, caller, account, admin.FreezeAccount)
}

func (e *Engine) UnfreezeAccount(ctx context.Context, caller, account state.Principal) error {
	return e.registry(ctx, OpUnfreezeAccount, EventAccountUnfrozen, caller, account, admin.UnfreezeAccount)
}

func (e *Engine) BlacklistAddress(ctx context.Context, caller, address state.Principal) error {
	return e.registry(ctx, OpBlacklistAddress, EventAddressBlacklisted, caller, address, admin.BlacklistAddress)
}

func (e *Engine) WhitelistAddress(ctx context.Context, caller, address state.Principal) error {
	return e.registry(ctx, OpWhitelistAddress, EventAddressWhitelisted, caller, address, admin.WhitelistAddress)
}

func (e *Engine) registry(
	ctx context.Context,
	op, event string,
	caller, account state.Principal,
	fn func(w admin.Writer, caller, account state.Principal) error,
) error {
	attrs := []attribute.KeyValue{traces.Principal("account", string(account))}
	return e.update(ctx, op, caller, attrs, func(tx *state.Tx) error {
		if err := fn(tx, caller, account); err != nil {
			return err
		}
		tx.Emit(event, AccountEvent{Account: account, By: caller})
		return nil
	})
}

// ToggleFraudDetection flips the fraud detection flag and returns its new value.
func (e *Engine) ToggleFraudDetection(ctx context.Context, caller state.Principal) (bool, error) {
	var enabled bool
	err := e.update(ctx, OpToggleFraudDetection, caller, nil, func(tx *state.Tx) error {
		var err error
		if enabled, err = admin.ToggleFraudDetection(tx, caller); err != nil {
			return err
		}
		tx.Emit(EventSettingsChanged, tx.Settings())
		return nil
	})
	return enabled, err
}

// AdvanceDayCounter moves the logical day forward and returns the new day.
func (e *Engine) AdvanceDayCounter(ctx context.Context, caller state.Principal) (uint64, error) {
	var day uint64
	err := e.update(ctx, OpAdvanceDay, caller, nil, func(tx *state.Tx) error {
		var err error
		if day, err = admin.AdvanceDay(tx, caller); err != nil {
			return err
		}
		tx.Emit(EventDayAdvanced, map[string]uint64{"day": day})
		return nil
	})
	return day, err
}

func (e *Engine) UpdateMaxTransactionAmount(ctx context.Context, caller state.Principal, amount uint64) error {
	return e.update(ctx, OpUpdateMaxTransaction, caller, []attribute.KeyValue{traces.Amount(amount)}, func(tx *state.Tx) error {
		if err := admin.SetMaxTransactionAmount(tx, caller, amount); err != nil {
			return err
		}
		tx.Emit(EventSettingsChanged, tx.Settings())
		return nil
	})
}

func (e *Engine) UpdateDailyLimit(ctx context.Context, caller state.Principal, limit uint64) error {
	return e.update(ctx, OpUpdateDailyLimit, caller, []attribute.KeyValue{traces.Amount(limit)}, func(tx *state.Tx) error {
		if err := admin.SetDailyLimit(tx, caller, limit); err != nil {
			return err
		}
		tx.Emit(EventSettingsChanged, tx.Settings())
		return nil
	})
}

// --- Reads ---

func (e *Engine) GetBalance(ctx context.Context, user state.Principal) (uint64, error) {
	var v uint64
	err := e.store.View(ctx, func(tx *state.Tx) error {
		v = ledger.Balance(tx, user)
		return nil
	})
	return v, err
}

func (e *Engine) IsAccountFrozen(ctx context.Context, account state.Principal) (bool, error) {
	var v bool
	err := e.store.View(ctx, func(tx *state.Tx) error {
		v = identity.IsFrozen(tx, account)
		return nil
	})
	return v, err
}

func (e *Engine) IsBlacklisted(ctx context.Context, address state.Principal) (bool, error) {
	var v bool
	err := e.store.View(ctx, func(tx *state.Tx) error {
		v = identity.IsBlacklisted(tx, address)
		return nil
	})
	return v, err
}

// GetFraudScore scores a hypothetical transfer of amount by user.
func (e *Engine) GetFraudScore(ctx context.Context, user state.Principal, amount uint64) (fraud.Assessment, error) {
	var a fraud.Assessment
	err := e.store.View(ctx, func(tx *state.Tx) error {
		var err error
		a, err = fraud.Assess(tx, user, amount)
		return err
	})
	return a, err
}

// GetDailyStats returns user's aggregate for the current logical day.
func (e *Engine) GetDailyStats(ctx context.Context, user state.Principal) (period.Daily, error) {
	var ds period.Daily
	err := e.store.View(ctx, func(tx *state.Tx) error {
		ds = period.Today(tx, user)
		return nil
	})
	return ds, err
}

// GetEscrowDetails returns the escrow at key or codes.ErrEscrowNotFound.
func (e *Engine) GetEscrowDetails(ctx context.Context, key state.EscrowKey) (escrow.Details, error) {
	var d escrow.Details
	err := e.store.View(ctx, func(tx *state.Tx) error {
		var ok bool
		if d, ok = escrow.Get(tx, key); !ok {
			return codes.ErrEscrowNotFound
		}
		return nil
	})
	return d, err
}

func (e *Engine) GetContractSettings(ctx context.Context) (state.Settings, error) {
	var s state.Settings
	err := e.store.View(ctx, func(tx *state.Tx) error {
		s = tx.Settings()
		return nil
	})
	return s, err
}

// Stats summarizes committed state.
func (e *Engine) Stats() state.Stats {
	return e.store.Stats()
}

// update runs fn as one atomic operation with tracing, metrics, and logging.
func (e *Engine) update(
	ctx context.Context,
	op string,
	caller state.Principal,
	attrs []attribute.KeyValue,
	fn func(tx *state.Tx) error,
) error {
	if logging.Caller(ctx) == "" {
		ctx = logging.WithCaller(ctx, string(caller))
	}
	attrs = append(attrs, traces.Operation(op), traces.Caller(string(caller)))
	ctx, span := traces.StartSpan(ctx, "ledger."+op, attrs...)
	defer span.End()

	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(op))
	err := e.store.Update(ctx, fn)
	timer.ObserveDuration()

	log := logging.With(ctx, e.logger).With("op", op)
	switch {
	case err == nil:
		metrics.OperationsTotal.WithLabelValues(op, metrics.ResultOK).Inc()
		log.Debug("operation committed")

	case codes.IsFatal(err):
		metrics.OperationsTotal.WithLabelValues(op, metrics.ResultFatal).Inc()
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		log.Error("arithmetic overflow, operation aborted", "error", err)

	default:
		code, ok := codes.CodeOf(err)
		if !ok {
			if errors.Is(err, state.ErrCommitFailed) {
				metrics.CommitFailuresTotal.Inc()
			}
			metrics.OperationsTotal.WithLabelValues(op, metrics.ResultError).Inc()
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			log.Error("operation failed", "error", err)
			break
		}
		rule := screening.RuleOf(err)
		metrics.OperationsTotal.WithLabelValues(op, metrics.ResultRejected).Inc()
		metrics.RejectionsTotal.WithLabelValues(op, strconv.Itoa(int(code)), string(rule)).Inc()
		span.SetAttributes(traces.ErrorCode(int(code)))
		log.Info("operation rejected", "code", int(code), "rule", string(rule))
	}
	return err
}
