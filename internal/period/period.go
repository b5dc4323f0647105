// Package period tracks per-user transfer aggregates for each logical day.
//
// The logical day is a counter advanced only by the owner; wall-clock time
// plays no part. Aggregates for past days are retained.
package period

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/identity"
	"github.com/mbd888/sentinel/internal/state"
)

// Reader reads the day counter and aggregates.
type Reader interface {
	Settings() state.Settings
	PeriodStat(k state.PeriodKey) (state.PeriodStat, bool)
}

// Writer records aggregates.
type Writer interface {
	Reader
	PutPeriodStat(k state.PeriodKey, v state.PeriodStat)
}

// ClockWriter advances the day counter.
type ClockWriter interface {
	identity.Reader
	PutSettings(s state.Settings)
}

// CurrentDay returns the stored logical day.
func CurrentDay(r Reader) uint64 {
	return r.Settings().CurrentDay
}

// AdvanceDay increments the day counter by one and returns the new value.
func AdvanceDay(w ClockWriter, caller state.Principal) (uint64, error) {
	if err := identity.RequireOwner(w, caller); err != nil {
		return 0, err
	}
	s := w.Settings()
	next, err := codes.Add(s.CurrentDay, 1)
	if err != nil {
		return 0, err
	}
	s.CurrentDay = next
	w.PutSettings(s)
	return next, nil
}

// Stats returns user's aggregate for the current day, zero if none.
func Stats(r Reader, user state.Principal) state.PeriodStat {
	return StatsOn(r, user, CurrentDay(r))
}

// StatsOn returns user's aggregate for day.
func StatsOn(r Reader, user state.Principal, day uint64) state.PeriodStat {
	v, _ := r.PeriodStat(state.PeriodKey{User: user, Day: day})
	return v
}

// Daily is a user's aggregate for one logical day.
type Daily struct {
	User   state.Principal `json:"user"`
	Day    uint64          `json:"day"`
	Amount uint64          `json:"amount"`
	Count  uint64          `json:"count"`
}

// Today returns user's aggregate for the current day.
func Today(r Reader, user state.Principal) Daily {
	day := CurrentDay(r)
	st := StatsOn(r, user, day)
	return Daily{User: user, Day: day, Amount: st.Amount, Count: st.Count}
}

// Record adds one transfer of amount to today's aggregate.
func Record(w Writer, user state.Principal, amount uint64) error {
	key := state.PeriodKey{User: user, Day: CurrentDay(w)}
	cur, _ := w.PeriodStat(key)

	total, err := codes.Add(cur.Amount, amount)
	if err != nil {
		return err
	}
	count, err := codes.Add(cur.Count, 1)
	if err != nil {
		return err
	}
	w.PutPeriodStat(key, state.PeriodStat{Amount: total, Count: count})
	return nil
}

// WithinDailyLimit reports whether today's total plus amount stays within
// the daily limit. Evaluated as a subtraction so it cannot overflow.
func WithinDailyLimit(r Reader, user state.Principal, amount uint64) bool {
	limit := r.Settings().DailyLimit
	if amount > limit {
		return false
	}
	return Stats(r, user).Amount <= limit-amount
}
