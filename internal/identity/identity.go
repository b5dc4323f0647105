// Package identity holds the access-control registries: the frozen-account
// set, the blacklist, and the owner principal.
package identity

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
)

// Reader is the read side of the registries.
type Reader interface {
	Settings() state.Settings
	IsFrozen(p state.Principal) bool
	IsBlacklisted(p state.Principal) bool
}

// Writer mutates the registries.
type Writer interface {
	Reader
	SetFrozen(p state.Principal, on bool)
	SetBlacklisted(p state.Principal, on bool)
}

// IsOwner reports whether caller is the contract owner.
func IsOwner(r Reader, caller state.Principal) bool {
	return caller != "" && caller == r.Settings().Owner
}

// RequireOwner returns codes.ErrUnauthorized unless caller is the owner.
func RequireOwner(r Reader, caller state.Principal) error {
	if !IsOwner(r, caller) {
		return codes.ErrUnauthorized
	}
	return nil
}

func IsFrozen(r Reader, p state.Principal) bool      { return r.IsFrozen(p) }
func IsBlacklisted(r Reader, p state.Principal) bool { return r.IsBlacklisted(p) }

// Freeze marks account as frozen. Frozen accounts cannot send.
func Freeze(w Writer, caller, account state.Principal) error {
	if err := RequireOwner(w, caller); err != nil {
		return err
	}
	w.SetFrozen(account, true)
	return nil
}

// Unfreeze removes account from the frozen set.
func Unfreeze(w Writer, caller, account state.Principal) error {
	if err := RequireOwner(w, caller); err != nil {
		return err
	}
	w.SetFrozen(account, false)
	return nil
}

// Blacklist marks address as blacklisted. Blacklisted addresses cannot receive.
func Blacklist(w Writer, caller, address state.Principal) error {
	if err := RequireOwner(w, caller); err != nil {
		return err
	}
	w.SetBlacklisted(address, true)
	return nil
}

// Whitelist removes address from the blacklist.
func Whitelist(w Writer, caller, address state.Principal) error {
	if err := RequireOwner(w, caller); err != nil {
		return err
	}
	w.SetBlacklisted(address, false)
	return nil
}
