// Package ledger tracks principal balances.
//
// Flow:
//  1. A principal deposits to itself (self-service top-up)
//  2. Payments and escrow settlement move value with Transfer, Debit, Credit
//
// Every mutation is overflow checked; a result outside uint64 aborts the
// enclosing transaction with codes.ErrOverflow.
package ledger

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
)

// Reader reads balances.
type Reader interface {
	Balance(p state.Principal) uint64
}

// Writer mutates balances.
type Writer interface {
	Reader
	SetBalance(p state.Principal, v uint64)
}

// Balance returns p's balance, zero for unknown principals.
func Balance(r Reader, p state.Principal) uint64 {
	return r.Balance(p)
}

// CanSpend reports whether p holds at least amount.
func CanSpend(r Reader, p state.Principal, amount uint64) bool {
	return r.Balance(p) >= amount
}

// Deposit credits caller with amount. No authorization is required.
func Deposit(w Writer, caller state.Principal, amount uint64) error {
	if amount == 0 {
		return codes.ErrInvalidAmount
	}
	return Credit(w, caller, amount)
}

// Credit adds amount to p.
func Credit(w Writer, p state.Principal, amount uint64) error {
	next, err := codes.Add(w.Balance(p), amount)
	if err != nil {
		return err
	}
	w.SetBalance(p, next)
	return nil
}

// Debit removes amount from p.
func Debit(w Writer, p state.Principal, amount uint64) error {
	bal := w.Balance(p)
	if bal < amount {
		return codes.ErrInsufficientFunds
	}
	next, err := codes.Sub(bal, amount)
	if err != nil {
		return err
	}
	w.SetBalance(p, next)
	return nil
}

// Transfer moves amount from one principal to another. It performs no
// authorization; callers gate it with screening first.
func Transfer(w Writer, from, to state.Principal, amount uint64) error {
	if err := Debit(w, from, amount); err != nil {
		return err
	}
	return Credit(w, to, amount)
}
