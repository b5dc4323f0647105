// Package admin provides owner-gated control over registries and settings.
package admin

import (
	"github.com/mbd888/sentinel/internal/identity"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
)

// Writer is the state admin operations mutate.
type Writer interface {
	identity.Writer
	period.ClockWriter
}

func FreezeAccount(w Writer, caller, account state.Principal) error {
	return identity.Freeze(w, caller, account)
}

func UnfreezeAccount(w Writer, caller, account state.Principal) error {
	return identity.Unfreeze(w, caller, account)
}

func BlacklistAddress(w Writer, caller, address state.Principal) error {
	return identity.Blacklist(w, caller, address)
}

func WhitelistAddress(w Writer, caller, address state.Principal) error {
	return identity.Whitelist(w, caller, address)
}

// ToggleFraudDetection flips the fraud detection flag and returns its new value.
func ToggleFraudDetection(w Writer, caller state.Principal) (bool, error) {
	if err := identity.RequireOwner(w, caller); err != nil {
		return false, err
	}
	s := w.Settings()
	s.FraudDetectionEnabled = !s.FraudDetectionEnabled
	w.PutSettings(s)
	return s.FraudDetectionEnabled, nil
}

// SetMaxTransactionAmount replaces the oversize threshold used by the
// fraud scorer. Zero is accepted and makes every positive amount oversize.
func SetMaxTransactionAmount(w Writer, caller state.Principal, amount uint64) error {
	if err := identity.RequireOwner(w, caller); err != nil {
		return err
	}
	s := w.Settings()
	s.MaxTransactionAmount = amount
	w.PutSettings(s)
	return nil
}

// SetDailyLimit replaces the per-user daily transfer ceiling.
func SetDailyLimit(w Writer, caller state.Principal, limit uint64) error {
	if err := identity.RequireOwner(w, caller); err != nil {
		return err
	}
	s := w.Settings()
	s.DailyLimit = limit
	w.PutSettings(s)
	return nil
}

// AdvanceDay moves the logical day forward by one.
func AdvanceDay(w Writer, caller state.Principal) (uint64, error) {
	return period.AdvanceDay(w, caller)
}
