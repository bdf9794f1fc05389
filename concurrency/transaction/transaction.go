// Package transaction defines the Transaction object the lock manager and
// its callers share: an isolation level, a strict-2PL state machine, and the
// shared/exclusive lock sets the lock manager mutates on every grant, wound,
// and unlock.
package transaction

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"relicore/common"
	"relicore/storage/page"
)

// TxnID is the transaction's age for wound-wait purposes: smaller is older,
// and an older transaction always wins a conflict against a younger one.
type TxnID int64

// IsolationLevel controls which locks LockManager will hand out and when a
// transaction is forced into SHRINKING.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// State is the strict two-phase-locking state machine: GROWING until the
// first unlock (REPEATABLE_READ only) or until a peer wounds the
// transaction, then SHRINKING, then terminally COMMITTED or ABORTED.
type State int32

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

// Transaction is externally owned: the transaction manager creates it, the
// lock manager mutates its lock sets and state under its own mutex, and
// callers read State to discover whether a peer has wounded them.
type Transaction struct {
	id        TxnID
	isolation IsolationLevel
	state     atomic.Int32

	// correlationID has no bearing on wound-wait age or any other ordering
	// decision in this core — TxnID alone is the age. It exists so a logger
	// or tracing layer above the core can follow one transaction across
	// log lines by an id that, unlike TxnID, does not restart at 1 for every
	// Manager.
	correlationID uuid.UUID

	// mu guards sharedLocks/exclusiveLocks. In practice every mutation is
	// already serialized by the lock manager's global mutex; this one
	// exists so a caller inspecting lock membership outside a lock-manager
	// call never races with a concurrent wound.
	mu             sync.Mutex
	sharedLocks    map[common.RID]struct{}
	exclusiveLocks map[common.RID]struct{}

	prevLSN page.LSN

	// tableWriteSet and indexWriteSet hold the undo records a rollback
	// would replay; the core only accumulates them, the transaction
	// manager's rollback path is the external collaborator that consumes
	// them.
	tableWriteSet []byte
	indexWriteSet []byte
}

func newTransaction(id TxnID, isolation IsolationLevel) *Transaction {
	t := &Transaction{
		id:             id,
		isolation:      isolation,
		correlationID:  uuid.New(),
		sharedLocks:    make(map[common.RID]struct{}),
		exclusiveLocks: make(map[common.RID]struct{}),
		prevLSN:        page.ZeroLSN,
	}
	t.state.Store(int32(Growing))
	return t
}

func (t *Transaction) ID() TxnID                     { return t.id }
func (t *Transaction) CorrelationID() uuid.UUID       { return t.correlationID }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }
func (t *Transaction) State() State                   { return State(t.state.Load()) }
func (t *Transaction) SetState(s State)               { t.state.Store(int32(s)) }

func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLocks[rid]
	return ok
}

func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLocks[rid]
	return ok
}

func (t *Transaction) AddSharedLock(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = struct{}{}
}

func (t *Transaction) RemoveSharedLock(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
}

func (t *Transaction) AddExclusiveLock(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLocks[rid] = struct{}{}
}

func (t *Transaction) RemoveExclusiveLock(rid common.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.exclusiveLocks, rid)
}

// SharedLockSet and ExclusiveLockSet return snapshots for diagnostics and
// tests; mutating the returned slice has no effect on the transaction.
func (t *Transaction) SharedLockSet() []common.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.RID, 0, len(t.sharedLocks))
	for rid := range t.sharedLocks {
		out = append(out, rid)
	}
	return out
}

func (t *Transaction) ExclusiveLockSet() []common.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.RID, 0, len(t.exclusiveLocks))
	for rid := range t.exclusiveLocks {
		out = append(out, rid)
	}
	return out
}

func (t *Transaction) PrevLSN() page.LSN     { return t.prevLSN }
func (t *Transaction) SetPrevLSN(l page.LSN) { t.prevLSN = l }

func (t *Transaction) TableWriteSet() []byte    { return t.tableWriteSet }
func (t *Transaction) AppendTableWrite(b []byte) { t.tableWriteSet = append(t.tableWriteSet, b...) }

func (t *Transaction) IndexWriteSet() []byte    { return t.indexWriteSet }
func (t *Transaction) AppendIndexWrite(b []byte) { t.indexWriteSet = append(t.indexWriteSet, b...) }

// Manager is the transaction-id registry. The design this core follows
// calls out explicitly that this registry must be an explicit service handed
// to the lock manager, never an ambient package-level singleton.
type Manager struct {
	mu   sync.Mutex
	next TxnID
	txns map[TxnID]*Transaction
}

func NewManager() *Manager {
	return &Manager{txns: make(map[TxnID]*Transaction)}
}

// Begin allocates the next transaction id and registers a new GROWING
// transaction under it.
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	txn := newTransaction(m.next, isolation)
	m.txns[txn.id] = txn
	return txn
}

// Get looks up a live transaction by id. The lock manager uses this to
// resolve the owner of a queued lock request before wounding it.
func (m *Manager) Get(id TxnID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	return txn, ok
}

// Commit marks txn COMMITTED and drops it from the registry. Rolling back
// undo logs on abort, and anything beyond bookkeeping the lock-manager-facing
// state transition, is the caller's concern; this core only tracks state.
func (m *Manager) Commit(txn *Transaction) {
	txn.SetState(Committed)
	m.forget(txn.id)
}

func (m *Manager) Abort(txn *Transaction) {
	txn.SetState(Aborted)
	m.forget(txn.id)
}

func (m *Manager) forget(id TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, id)
}
