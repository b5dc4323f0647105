// Package escrow implements two-phase transfers.
//
// Flow:
//  1. Sender creates an escrow: funds are debited from the sender and held
//     under the (sender, recipient, nonce) key
//  2. Sender or contract owner releases it: the held amount is credited to
//     the recipient
//
// An escrow is released at most once and is never deleted. There is no
// refund path; funds stay locked until release.
package escrow

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/identity"
	"github.com/mbd888/sentinel/internal/ledger"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/screening"
	"github.com/mbd888/sentinel/internal/state"
)

// Status is the lifecycle position of an escrow.
type Status string

const (
	StatusLocked   Status = "locked"
	StatusReleased Status = "released"
)

// Reader reads escrow records.
type Reader interface {
	Escrow(k state.EscrowKey) (state.Escrow, bool)
}

// Writer is the state Create and Release touch.
type Writer interface {
	Reader
	screening.Reader
	ledger.Writer
	PutEscrow(k state.EscrowKey, v state.Escrow)
}

// Details is the externally visible view of an escrow.
type Details struct {
	Sender    state.Principal `json:"sender"`
	Recipient state.Principal `json:"recipient"`
	Nonce     uint64          `json:"nonce"`
	Amount    uint64          `json:"amount"`
	Timestamp uint64          `json:"timestamp"`
	Released  bool            `json:"released"`
	Status    Status          `json:"status"`
}

// Key returns the escrow key the details describe.
func (d Details) Key() state.EscrowKey {
	return state.EscrowKey{Sender: d.Sender, Recipient: d.Recipient, Nonce: d.Nonce}
}

func detailsOf(k state.EscrowKey, e state.Escrow) Details {
	d := Details{
		Sender:    k.Sender,
		Recipient: k.Recipient,
		Nonce:     k.Nonce,
		Amount:    e.Amount,
		Timestamp: e.Timestamp,
		Released:  e.Released,
		Status:    StatusLocked,
	}
	if e.Released {
		d.Status = StatusReleased
	}
	return d
}

// Create locks amount from the caller for recipient under nonce.
//
// Checks run in order: sender balance, screening, key uniqueness. Escrow
// creation does not count toward the sender's daily aggregate.
func Create(w Writer, caller, recipient state.Principal, amount, nonce uint64) (Details, error) {
	if !ledger.CanSpend(w, caller, amount) {
		return Details{}, codes.ErrInsufficientFunds
	}
	if err := screening.Require(w, caller, recipient, amount); err != nil {
		return Details{}, err
	}
	key := state.EscrowKey{Sender: caller, Recipient: recipient, Nonce: nonce}
	if _, exists := w.Escrow(key); exists {
		return Details{}, codes.ErrEscrowExists
	}

	if err := ledger.Debit(w, caller, amount); err != nil {
		return Details{}, err
	}
	e := state.Escrow{
		Amount:    amount,
		Timestamp: period.CurrentDay(w),
	}
	w.PutEscrow(key, e)
	return detailsOf(key, e), nil
}

// Release pays a locked escrow out to its recipient. Only the sender or the
// contract owner may release. Screening is not re-run.
func Release(w Writer, caller state.Principal, key state.EscrowKey) (Details, error) {
	e, ok := w.Escrow(key)
	if !ok {
		return Details{}, codes.ErrEscrowNotFound
	}
	if caller != key.Sender && !identity.IsOwner(w, caller) {
		return Details{}, codes.ErrUnauthorized
	}
	if e.Released {
		return Details{}, codes.ErrEscrowAlreadyReleased
	}

	if err := ledger.Credit(w, key.Recipient, e.Amount); err != nil {
		return Details{}, err
	}
	e.Released = true
	w.PutEscrow(key, e)
	return detailsOf(key, e), nil
}

// Get returns the escrow stored under key.
func Get(r Reader, key state.EscrowKey) (Details, bool) {
	e, ok := r.Escrow(key)
	if !ok {
		return Details{}, false
	}
	return detailsOf(key, e), true
}
