// Package payment orchestrates a screened transfer between two principals.
package payment

import (
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/fraud"
	"github.com/mbd888/sentinel/internal/ledger"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/screening"
	"github.com/mbd888/sentinel/internal/state"
)

// Writer is every piece of state a payment touches.
type Writer interface {
	screening.Reader
	ledger.Writer
	period.Writer
	fraud.Writer
}

// Receipt describes a completed payment.
type Receipt struct {
	Sender    state.Principal `json:"sender"`
	Recipient state.Principal `json:"recipient"`
	Amount    uint64          `json:"amount"`

	// PostScore is the sender's score recomputed after recording the payment.
	PostScore uint64 `json:"-"`
	// Suspicious is set when PostScore was persisted as suspicious activity.
	Suspicious bool `json:"-"`
}

// SecurePayment moves amount from sender to recipient.
//
// Order: screening, self-payment, balance, transfer, record the day's
// aggregate, then rescore and persist suspicious activity. All checks run
// before the first write.
func SecurePayment(w Writer, sender, recipient state.Principal, amount uint64) (Receipt, error) {
	if err := screening.Require(w, sender, recipient, amount); err != nil {
		return Receipt{}, err
	}
	if sender == recipient {
		return Receipt{}, codes.ErrInvalidRecipient
	}
	if !ledger.CanSpend(w, sender, amount) {
		return Receipt{}, codes.ErrInsufficientFunds
	}

	if err := ledger.Transfer(w, sender, recipient, amount); err != nil {
		return Receipt{}, err
	}
	if err := period.Record(w, sender, amount); err != nil {
		return Receipt{}, err
	}

	score, err := fraud.Score(w, sender, amount)
	if err != nil {
		return Receipt{}, err
	}
	suspicious := fraud.RecordSuspicion(w, sender, score)

	return Receipt{
		Sender:     sender,
		Recipient:  recipient,
		Amount:     amount,
		PostScore:  score,
		Suspicious: suspicious,
	}, nil
}
