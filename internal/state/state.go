// Package state is the single process-wide container for ledger state.
//
// Every public operation runs as one logical transaction:
//  1. Update acquires the single writer lock
//  2. the operation reads and writes through a Tx overlay
//  3. if the operation returns an error the overlay is discarded
//  4. otherwise the change set is journaled to the Backend, then applied
//
// Readers use View and only ever see committed state.
package state

import (
	"errors"
	"fmt"
)

var (
	ErrReadOnly      = errors.New("write attempted in read-only transaction")
	ErrOwnerMismatch = errors.New("configured owner does not match persisted owner")
	ErrNoOwner       = errors.New("owner principal is required")
	ErrCommitFailed  = errors.New("backend commit failed")
)

// Principal identifies an account.
type Principal string

// PeriodKey addresses one user's aggregate for one logical day.
type PeriodKey struct {
	User Principal
	Day  uint64
}

// PeriodStat is the cumulative amount and count transferred in a day.
type PeriodStat struct {
	Amount uint64 `json:"amount"`
	Count  uint64 `json:"count"`
}

// SuspiciousActivity is the last elevated fraud score recorded for a user.
type SuspiciousActivity struct {
	Score      uint64 `json:"score"`
	LastUpdate uint64 `json:"lastUpdate"`
}

// EscrowKey is the idempotency key of an escrow.
type EscrowKey struct {
	Sender    Principal `json:"sender"`
	Recipient Principal `json:"recipient"`
	Nonce     uint64    `json:"nonce"`
}

func (k EscrowKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Sender, k.Recipient, k.Nonce)
}

// Escrow is a locked amount awaiting release.
type Escrow struct {
	Amount    uint64 `json:"amount"`
	Timestamp uint64 `json:"timestamp"` // logical day of creation
	Released  bool   `json:"released"`
}

// Settings is the contract-wide configuration singleton.
type Settings struct {
	Owner                 Principal `json:"owner"`
	FraudDetectionEnabled bool      `json:"fraudDetectionEnabled"`
	MaxTransactionAmount  uint64    `json:"maxTransactionAmount"`
	DailyLimit            uint64    `json:"dailyLimit"`
	CurrentDay            uint64    `json:"currentDay"`
}

// Snapshot is a full copy of committed state, as loaded from a Backend.
type Snapshot struct {
	Balances    map[Principal]uint64
	Frozen      map[Principal]struct{}
	Blacklist   map[Principal]struct{}
	PeriodStats map[PeriodKey]PeriodStat
	Suspicious  map[Principal]SuspiciousActivity
	Escrows     map[EscrowKey]Escrow
	Settings    *Settings // nil until genesis has been committed
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Balances:    make(map[Principal]uint64),
		Frozen:      make(map[Principal]struct{}),
		Blacklist:   make(map[Principal]struct{}),
		PeriodStats: make(map[PeriodKey]PeriodStat),
		Suspicious:  make(map[Principal]SuspiciousActivity),
		Escrows:     make(map[EscrowKey]Escrow),
	}
}

// Apply merges a change set into the snapshot.
func (s *Snapshot) Apply(cs *ChangeSet) {
	for p, v := range cs.Balances {
		s.Balances[p] = v
	}
	for p, on := range cs.Frozen {
		if on {
			s.Frozen[p] = struct{}{}
		} else {
			delete(s.Frozen, p)
		}
	}
	for p, on := range cs.Blacklist {
		if on {
			s.Blacklist[p] = struct{}{}
		} else {
			delete(s.Blacklist, p)
		}
	}
	for k, v := range cs.PeriodStats {
		s.PeriodStats[k] = v
	}
	for p, v := range cs.Suspicious {
		s.Suspicious[p] = v
	}
	for k, v := range cs.Escrows {
		s.Escrows[k] = v
	}
	if cs.Settings != nil {
		cp := *cs.Settings
		s.Settings = &cp
	}
}

// ChangeSet is the buffered write set of one transaction. For the two
// membership sets, true inserts and false deletes the entry.
type ChangeSet struct {
	Balances    map[Principal]uint64
	Frozen      map[Principal]bool
	Blacklist   map[Principal]bool
	PeriodStats map[PeriodKey]PeriodStat
	Suspicious  map[Principal]SuspiciousActivity
	Escrows     map[EscrowKey]Escrow
	Settings    *Settings
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Balances:    make(map[Principal]uint64),
		Frozen:      make(map[Principal]bool),
		Blacklist:   make(map[Principal]bool),
		PeriodStats: make(map[PeriodKey]PeriodStat),
		Suspicious:  make(map[Principal]SuspiciousActivity),
		Escrows:     make(map[EscrowKey]Escrow),
	}
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return len(c.Balances) == 0 && len(c.Frozen) == 0 && len(c.Blacklist) == 0 &&
		len(c.PeriodStats) == 0 && len(c.Suspicious) == 0 && len(c.Escrows) == 0 &&
		c.Settings == nil
}
