// Package reconciliation audits committed ledger state: money is only
// created by deposits, so balances plus locked escrow must always equal the
// opening supply plus every deposit since.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/engine"
	"github.com/mbd888/sentinel/internal/health"
	"github.com/mbd888/sentinel/internal/state"
)

// Auditor exposes committed state under the writer lock.
type Auditor interface {
	Audit(ctx context.Context, fn func(snap *state.Snapshot) error) error
}

// Check names used in findings and metric labels.
const (
	CheckSupply          = "supply"
	CheckZeroEscrow      = "zero_escrow"
	CheckFuturePeriod    = "future_period"
	CheckPeriodCount     = "period_count"
	CheckFutureSuspicion = "future_suspicion"
	CheckNoSettings      = "no_settings"
)

// Finding is one violated invariant.
type Finding struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Report is the outcome of one reconciliation run. Supply figures are
// decimal strings because their sum can exceed uint64.
type Report struct {
	Match    bool      `json:"match"`
	Supply   string    `json:"supply"`
	Expected string    `json:"expected"`
	Diff     string    `json:"diff"`
	Findings []Finding `json:"findings"`
	RanAt    time.Time `json:"ranAt"`
}

// Service tracks deposits from the event stream and compares them against
// committed state.
type Service struct {
	auditor Auditor
	logger  *slog.Logger

	mu       sync.Mutex
	baseline *big.Int
	minted   *big.Int
	last     *Report
}

// NewService records the opening supply. Register Observe with the store
// before any further commit so no deposit is missed.
func NewService(ctx context.Context, auditor Auditor, logger *slog.Logger) (*Service, error) {
	s := &Service{
		auditor: auditor,
		logger:  logger,
		minted:  new(big.Int),
	}
	err := auditor.Audit(ctx, func(snap *state.Snapshot) error {
		s.baseline = supplyOf(snap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read opening supply: %w", err)
	}
	return s, nil
}

// Observe is a state.Listener that accumulates deposits.
func (s *Service) Observe(events []state.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.Type != engine.EventDeposit {
			continue
		}
		if d, ok := ev.Data.(engine.DepositEvent); ok {
			s.minted.Add(s.minted, new(big.Int).SetUint64(d.Amount))
		}
	}
}

// Run audits committed state once and records the report.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	var report *Report
	err := s.auditor.Audit(ctx, func(snap *state.Snapshot) error {
		report = s.audit(snap)
		return nil
	})
	reconcileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("audit state: %w", err)
	}
	report.RanAt = time.Now().UTC()

	reconcileFindings.Reset()
	for _, f := range report.Findings {
		reconcileFindings.WithLabelValues(f.Check).Inc()
		s.logger.Error("reconciliation finding", "check", f.Check, "detail", f.Detail)
	}
	if report.Match {
		reconcileSupplyMatch.Set(1)
	} else {
		reconcileSupplyMatch.Set(0)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// Last returns the most recent report, or nil before the first run.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// HealthCheck reports unhealthy while the last run has findings.
func (s *Service) HealthCheck(_ context.Context) health.Status {
	last := s.Last()
	switch {
	case last == nil:
		return health.Status{Name: "reconciliation", Healthy: true, Detail: "not run yet"}
	case len(last.Findings) > 0:
		return health.Status{
			Name:    "reconciliation",
			Healthy: false,
			Detail:  fmt.Sprintf("%d findings, first: %s", len(last.Findings), last.Findings[0].Detail),
		}
	}
	return health.Status{Name: "reconciliation", Healthy: true}
}

func (s *Service) audit(snap *state.Snapshot) *Report {
	s.mu.Lock()
	expected := new(big.Int).Add(s.baseline, s.minted)
	s.mu.Unlock()

	supply := supplyOf(snap)
	diff := new(big.Int).Sub(supply, expected)
	r := &Report{
		Match:    diff.Sign() == 0,
		Supply:   supply.String(),
		Expected: expected.String(),
		Diff:     diff.String(),
		Findings: []Finding{},
	}
	if !r.Match {
		r.Findings = append(r.Findings, Finding{
			Check:  CheckSupply,
			Detail: fmt.Sprintf("supply %s, expected %s", r.Supply, r.Expected),
		})
	}

	if snap.Settings == nil {
		r.Findings = append(r.Findings, Finding{Check: CheckNoSettings, Detail: "settings not initialized"})
		return r
	}
	day := snap.Settings.CurrentDay

	for k, e := range snap.Escrows {
		if e.Amount == 0 {
			r.Findings = append(r.Findings, Finding{
				Check:  CheckZeroEscrow,
				Detail: fmt.Sprintf("escrow %s->%s nonce %d has zero amount", k.Sender, k.Recipient, k.Nonce),
			})
		}
	}
	for k, v := range snap.PeriodStats {
		if k.Day > day {
			r.Findings = append(r.Findings, Finding{
				Check:  CheckFuturePeriod,
				Detail: fmt.Sprintf("%s has stats for day %d, current day %d", k.User, k.Day, day),
			})
		}
		// Every counted payment moved at least one unit.
		if v.Amount < v.Count {
			r.Findings = append(r.Findings, Finding{
				Check:  CheckPeriodCount,
				Detail: fmt.Sprintf("%s day %d: amount %d below count %d", k.User, k.Day, v.Amount, v.Count),
			})
		}
	}
	for p, a := range snap.Suspicious {
		if a.LastUpdate > day {
			r.Findings = append(r.Findings, Finding{
				Check:  CheckFutureSuspicion,
				Detail: fmt.Sprintf("%s suspicion recorded on day %d, current day %d", p, a.LastUpdate, day),
			})
		}
	}
	return r
}

// supplyOf sums balances and unreleased escrow.
func supplyOf(snap *state.Snapshot) *big.Int {
	total := new(big.Int)
	for _, b := range snap.Balances {
		total.Add(total, new(big.Int).SetUint64(b))
	}
	for _, e := range snap.Escrows {
		if !e.Released {
			total.Add(total, new(big.Int).SetUint64(e.Amount))
		}
	}
	return total
}
