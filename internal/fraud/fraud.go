// Package fraud scores proposed transfers.
//
// The score is the sum of four non-negative factors:
//   - base:      amount / 100000
//   - frequency: today's transaction count * 5
//   - oversize:  50 when amount exceeds the max single transaction amount
//   - history:   the user's persisted suspicious-activity score
//
// A transfer is flagged when fraud detection is enabled and the score reaches
// FlagThreshold. Scores above SuspicionThreshold after a payment are
// persisted and inflate every later score for that user.
package fraud

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

const (
	BaseDivisor        = 100_000
	FrequencyPenalty   = 5
	OversizePenalty    = 50
	FlagThreshold      = 100
	SuspicionThreshold = 50
)

// Reader is the state the scorer depends on.
type Reader interface {
	period.Reader
	Suspicious(p state.Principal) (state.SuspiciousActivity, bool)
}

// Writer persists suspicious-activity records.
type Writer interface {
	Reader
	PutSuspicious(p state.Principal, v state.SuspiciousActivity)
}

// Factors is the per-term breakdown of a score.
type Factors struct {
	Base      uint64 `json:"base"`
	Frequency uint64 `json:"frequency"`
	Oversize  uint64 `json:"oversize"`
	History   uint64 `json:"history"`
}

// Assessment is a scored transfer proposal.
type Assessment struct {
	User    state.Principal `json:"user"`
	Amount  uint64          `json:"amount"`
	Day     uint64          `json:"day"`
	Score   uint64          `json:"score"`
	Factors Factors         `json:"factors"`
	Flagged bool            `json:"flagged"`
}

// Assess scores amount for user against current state. It writes nothing.
func Assess(r Reader, user state.Principal, amount uint64) (Assessment, error) {
	settings := r.Settings()
	stats := period.Stats(r, user)

	freq, err := codes.Mul(stats.Count, FrequencyPenalty)
	if err != nil {
		return Assessment{}, err
	}
	f := Factors{
		Base:      amount / BaseDivisor,
		Frequency: freq,
	}
	if amount > settings.MaxTransactionAmount {
		f.Oversize = OversizePenalty
	}
	if hist, ok := r.Suspicious(user); ok {
		f.History = hist.Score
	}

	score := f.Base
	for _, term := range []uint64{f.Frequency, f.Oversize, f.History} {
		if score, err = codes.Add(score, term); err != nil {
			return Assessment{}, err
		}
	}

	return Assessment{
		User:    user,
		Amount:  amount,
		Day:     settings.CurrentDay,
		Score:   score,
		Factors: f,
		Flagged: settings.FraudDetectionEnabled && score >= FlagThreshold,
	}, nil
}

// Score returns the fraud score of amount for user.
func Score(r Reader, user state.Principal, amount uint64) (uint64, error) {
	a, err := Assess(r, user, amount)
	return a.Score, err
}

// IsFlagged reports whether the transfer would be rejected as fraudulent.
func IsFlagged(r Reader, user state.Principal, amount uint64) (bool, error) {
	a, err := Assess(r, user, amount)
	return a.Flagged, err
}

// RecordSuspicion overwrites user's suspicious-activity record with score
// when it exceeds SuspicionThreshold. It reports whether a record was written.
func RecordSuspicion(w Writer, user state.Principal, score uint64) bool {
	if score <= SuspicionThreshold {
		return false
	}
	w.PutSuspicious(user, state.SuspiciousActivity{
		Score:      score,
		LastUpdate: period.CurrentDay(w),
	})
	return true
}
