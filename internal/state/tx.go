package state

// Event describes something an operation did. Events are delivered to
// listeners only after the transaction that emitted them commits.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Tx is a buffered view over committed state. Reads see the transaction's
// own writes; nothing is visible to other callers until commit.
type Tx struct {
	base     *Snapshot
	cs       *ChangeSet
	events   []Event
	readOnly bool
}

func newTx(base *Snapshot, readOnly bool) *Tx {
	return &Tx{base: base, cs: newChangeSet(), readOnly: readOnly}
}

func (t *Tx) mustWrite() {
	if t.readOnly {
		panic(ErrReadOnly)
	}
}

// Changes returns the buffered write set.
func (t *Tx) Changes() *ChangeSet { return t.cs }

// Events returns the events emitted so far.
func (t *Tx) Events() []Event { return t.events }

// Emit queues an event for delivery after commit.
func (t *Tx) Emit(typ string, data any) {
	t.mustWrite()
	t.events = append(t.events, Event{Type: typ, Data: data})
}

// Balance returns p's balance, zero if unknown.
func (t *Tx) Balance(p Principal) uint64 {
	if v, ok := t.cs.Balances[p]; ok {
		return v
	}
	return t.base.Balances[p]
}

func (t *Tx) SetBalance(p Principal, v uint64) {
	t.mustWrite()
	t.cs.Balances[p] = v
}

func (t *Tx) IsFrozen(p Principal) bool {
	if on, ok := t.cs.Frozen[p]; ok {
		return on
	}
	_, ok := t.base.Frozen[p]
	return ok
}

func (t *Tx) SetFrozen(p Principal, on bool) {
	t.mustWrite()
	t.cs.Frozen[p] = on
}

func (t *Tx) IsBlacklisted(p Principal) bool {
	if on, ok := t.cs.Blacklist[p]; ok {
		return on
	}
	_, ok := t.base.Blacklist[p]
	return ok
}

func (t *Tx) SetBlacklisted(p Principal, on bool) {
	t.mustWrite()
	t.cs.Blacklist[p] = on
}

// PeriodStat returns the aggregate for key and whether it exists.
func (t *Tx) PeriodStat(k PeriodKey) (PeriodStat, bool) {
	if v, ok := t.cs.PeriodStats[k]; ok {
		return v, true
	}
	v, ok := t.base.PeriodStats[k]
	return v, ok
}

func (t *Tx) PutPeriodStat(k PeriodKey, v PeriodStat) {
	t.mustWrite()
	t.cs.PeriodStats[k] = v
}

func (t *Tx) Suspicious(p Principal) (SuspiciousActivity, bool) {
	if v, ok := t.cs.Suspicious[p]; ok {
		return v, true
	}
	v, ok := t.base.Suspicious[p]
	return v, ok
}

func (t *Tx) PutSuspicious(p Principal, v SuspiciousActivity) {
	t.mustWrite()
	t.cs.Suspicious[p] = v
}

func (t *Tx) Escrow(k EscrowKey) (Escrow, bool) {
	if v, ok := t.cs.Escrows[k]; ok {
		return v, true
	}
	v, ok := t.base.Escrows[k]
	return v, ok
}

func (t *Tx) PutEscrow(k EscrowKey, v Escrow) {
	t.mustWrite()
	t.cs.Escrows[k] = v
}

// Settings returns the current settings. The store guarantees genesis
// settings exist before any transaction runs.
func (t *Tx) Settings() Settings {
	if t.cs.Settings != nil {
		return *t.cs.Settings
	}
	if t.base.Settings != nil {
		return *t.base.Settings
	}
	return Settings{}
}

func (t *Tx) PutSettings(s Settings) {
	t.mustWrite()
	t.cs.Settings = &s
}

// NewTx returns a writable transaction over base that belongs to no Store.
// Its changes are never committed; callers may Apply them by hand.
func NewTx(base *Snapshot) *Tx {
	if base.Settings == nil {
		base.Settings = &Settings{}
	}
	return newTx(base, false)
}
