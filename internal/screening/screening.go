// Package screening decides whether a proposed transfer may proceed.
//
// The caller-visible outcome of every failed rule is the same
// codes.ErrFraudDetected; the Rule is kept for logs and metrics only.
package screening

import (
	"errors"

	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/fraud"
	"github.com/mbd888/sentinel/internal/identity"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

// Rule names the first check a transfer failed.
type Rule string

const (
	RuleNone                 Rule = ""
	RuleSenderFrozen         Rule = "sender_frozen"
	RuleRecipientBlacklisted Rule = "recipient_blacklisted"
	RuleInvalidAmount        Rule = "invalid_amount"
	RuleDailyLimit           Rule = "daily_limit"
	RuleFraudScore           Rule = "fraud_score"
)

// Reader is the state screening consults.
type Reader interface {
	identity.Reader
	fraud.Reader
}

// Verdict is the outcome of Check.
type Verdict struct {
	Allowed bool
	Rule    Rule
	Score   uint64 // only set when the score was computed
}

// Check evaluates every rule in order and stops at the first failure.
// It has no side effects.
func Check(r Reader, sender, recipient state.Principal, amount uint64) (Verdict, error) {
	switch {
	case r.IsFrozen(sender):
		return Verdict{Rule: RuleSenderFrozen}, nil
	case r.IsBlacklisted(recipient):
		return Verdict{Rule: RuleRecipientBlacklisted}, nil
	case amount == 0:
		return Verdict{Rule: RuleInvalidAmount}, nil
	case !period.WithinDailyLimit(r, sender, amount):
		return Verdict{Rule: RuleDailyLimit}, nil
	}

	if !r.Settings().FraudDetectionEnabled {
		return Verdict{Allowed: true}, nil
	}
	a, err := fraud.Assess(r, sender, amount)
	if err != nil {
		return Verdict{}, err
	}
	if a.Flagged {
		return Verdict{Rule: RuleFraudScore, Score: a.Score}, nil
	}
	return Verdict{Allowed: true, Score: a.Score}, nil
}

// Validate reports whether the transfer passes every rule.
func Validate(r Reader, sender, recipient state.Principal, amount uint64) (bool, error) {
	v, err := Check(r, sender, recipient, amount)
	return v.Allowed, err
}

// Rejection is returned by Require for a failed check. It matches
// codes.ErrFraudDetected under errors.Is.
type Rejection struct {
	Rule  Rule
	Score uint64
}

func (e *Rejection) Error() string {
	return codes.ErrFraudDetected.Error() + " (" + string(e.Rule) + ")"
}

func (e *Rejection) Unwrap() error { return codes.ErrFraudDetected }

// Require returns nil if the transfer passes, a *Rejection otherwise.
func Require(r Reader, sender, recipient state.Principal, amount uint64) error {
	v, err := Check(r, sender, recipient, amount)
	if err != nil {
		return err
	}
	if !v.Allowed {
		return &Rejection{Rule: v.Rule, Score: v.Score}
	}
	return nil
}

// RuleOf extracts the failed rule from an error returned by Require.
func RuleOf(err error) Rule {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Rule
	}
	return RuleNone
}
