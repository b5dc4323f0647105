package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbd888/sentinel/internal/syncutil"
)

// Backend persists committed change sets.
type Backend interface {
	// Load returns the full committed state.
	Load(ctx context.Context) (*Snapshot, error)
	// Commit durably records one change set. It must be all-or-nothing.
	Commit(ctx context.Context, cs *ChangeSet) error
	Ping(ctx context.Context) error
}

// Listener receives the events of a committed transaction. Listeners run
// while the writer lock is held, in commit order, and must not call Update.
type Listener func(events []Event)

// Store owns committed state and serializes all writers.
type Store struct {
	backend   Backend
	writer    *syncutil.ContextMutex
	mu        sync.RWMutex // guards committed against concurrent View
	committed *Snapshot

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Open loads committed state from backend. On an empty backend the genesis
// settings are committed first; on a populated one the persisted owner must
// match genesis.Owner since ownership never changes after initialization.
func Open(ctx context.Context, backend Backend, genesis Settings) (*Store, error) {
	if genesis.Owner == "" {
		return nil, ErrNoOwner
	}
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	s := &Store{
		backend:   backend,
		writer:    syncutil.NewContextMutex(),
		committed: snap,
	}
	if snap.Settings == nil {
		cs := newChangeSet()
		cs.Settings = &genesis
		if err := backend.Commit(ctx, cs); err != nil {
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		snap.Apply(cs)
		return s, nil
	}
	if snap.Settings.Owner != genesis.Owner {
		return nil, fmt.Errorf("%w: persisted %s, configured %s", ErrOwnerMismatch, snap.Settings.Owner, genesis.Owner)
	}
	return s, nil
}

// Subscribe registers l to receive events after each commit.
func (s *Store) Subscribe(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Update runs fn as one atomic transaction. If fn returns an error, or the
// backend rejects the commit, no write becomes visible.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	unlock, err := s.writer.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	// The writer lock excludes every other mutator, so reading committed
	// without mu is safe here.
	tx := newTx(s.committed, false)
	if err := fn(tx); err != nil {
		return err
	}

	if !tx.cs.Empty() {
		if err := s.backend.Commit(ctx, tx.cs); err != nil {
			return fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
		s.mu.Lock()
		s.committed.Apply(tx.cs)
		s.mu.Unlock()
	}

	s.publish(tx.events)
	return nil
}

// Audit runs fn against committed state while holding the writer lock, so no
// commit is in flight and every listener has seen every committed event.
// fn must not modify snap.
func (s *Store) Audit(ctx context.Context, fn func(snap *Snapshot) error) error {
	unlock, err := s.writer.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(s.committed)
}

// View runs fn against committed state. Writes panic with ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s.committed, true))
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Stats summarizes the size of committed state.
type Stats struct {
	Accounts      int    `json:"accounts"`
	Frozen        int    `json:"frozen"`
	Blacklisted   int    `json:"blacklisted"`
	PeriodEntries int    `json:"periodEntries"`
	Suspicious    int    `json:"suspicious"`
	Escrows       int    `json:"escrows"`
	LockedEscrows int    `json:"lockedEscrows"`
	TotalBalance  uint64 `json:"totalBalance"`
	TotalLocked   uint64 `json:"totalLocked"`
}

// Stats returns counts over committed state. Totals saturate rather than
// wrap; they are informational only.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Accounts:      len(s.committed.Balances),
		Frozen:        len(s.committed.Frozen),
		Blacklisted:   len(s.committed.Blacklist),
		PeriodEntries: len(s.committed.PeriodStats),
		Suspicious:    len(s.committed.Suspicious),
		Escrows:       len(s.committed.Escrows),
	}
	for _, b := range s.committed.Balances {
		st.TotalBalance = saturatingAdd(st.TotalBalance, b)
	}
	for _, e := range s.committed.Escrows {
		if !e.Released {
			st.LockedEscrows++
			st.TotalLocked = saturatingAdd(st.TotalLocked, e.Amount)
		}
	}
	return st
}

func (s *Store) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	s.listenersMu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.listenersMu.RUnlock()
	for _, l := range ls {
		l(events)
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
