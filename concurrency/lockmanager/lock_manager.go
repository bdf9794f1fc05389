// Package lockmanager implements strict two-phase locking over row ids with
// wound-wait deadlock prevention: the older of two conflicting transactions
// (lower id) always wins, either by aborting the younger one outright or by
// making the younger one wait.
package lockmanager

import (
	"sync"

	"go.uber.org/zap"

	"relicore/common"
	"relicore/concurrency/transaction"
	"relicore/metrics"
)

// Mode is the kind of lock a request holds or wants.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

type lockRequest struct {
	txnID transaction.TxnID
	mode  Mode
}

// requestQueue is per-RID: every currently held lock on that row, in
// insertion order, plus the condition variable a younger shared or upgrade
// request waits on (exclusive requests never wait).
type requestQueue struct {
	requests []*lockRequest
	cv       *sync.Cond
}

// Manager is the lock table: one mutex guards every queue, matching the
// original design's single global latch rather than one latch per row,
// because wounding a peer touches that peer's Transaction state and queue
// membership atomically with the requester's own decision.
type Manager struct {
	mu    sync.Mutex
	table map[common.RID]*requestQueue

	txns    *transaction.Manager
	metrics *metrics.LockManager
	logger  *zap.Logger
}

// New builds a lock manager resolving holder transactions through txns. m
// may be nil to disable metrics; logger may be nil to discard log output.
func New(txns *transaction.Manager, m *metrics.LockManager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		table:   make(map[common.RID]*requestQueue),
		txns:    txns,
		metrics: m,
		logger:  logger,
	}
}

func (lm *Manager) queueFor(rid common.RID) *requestQueue {
	rq, ok := lm.table[rid]
	if !ok {
		rq = &requestQueue{cv: sync.NewCond(&lm.mu)}
		lm.table[rid] = rq
	}
	return rq
}

// removeAt deletes the request at idx from rq's queue and returns it.
func removeAt(rq *requestQueue, idx int) *lockRequest {
	req := rq.requests[idx]
	rq.requests = append(rq.requests[:idx], rq.requests[idx+1:]...)
	return req
}

// wound aborts the transaction owning req (erasing rid from its matching
// lock set) and drops its entry from the queue. Caller holds lm.mu.
func (lm *Manager) wound(rid common.RID, rq *requestQueue, idx int) {
	req := removeAt(rq, idx)

	fields := []zap.Field{zap.Int64("txn_id", int64(req.txnID)), zap.String("rid", rid.String())}
	if holder, ok := lm.txns.Get(req.txnID); ok {
		if req.mode == Shared {
			holder.RemoveSharedLock(rid)
		} else {
			holder.RemoveExclusiveLock(rid)
		}
		holder.SetState(transaction.Aborted)
		fields = append(fields, zap.String("correlation_id", holder.CorrelationID().String()))
	}
	if lm.metrics != nil {
		lm.metrics.Wounds.Inc()
	}
	lm.logger.Info("wounded transaction", fields...)
}

func (lm *Manager) grant(rid common.RID, rq *requestQueue, txn *transaction.Transaction, mode Mode) {
	rq.requests = append(rq.requests, &lockRequest{txnID: txn.ID(), mode: mode})
	txn.SetState(transaction.Growing)
	if mode == Shared {
		txn.AddSharedLock(rid)
	} else {
		txn.AddExclusiveLock(rid)
	}
	if lm.metrics != nil {
		lm.metrics.Grants.Inc()
	}
}

// LockShared acquires a shared lock on rid for txn, blocking while an older
// transaction holds an exclusive lock on it and wounding any younger one.
func (lm *Manager) LockShared(txn *transaction.Transaction, rid common.RID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

recheck:
	if txn.State() == transaction.Aborted {
		return false
	}
	if txn.IsolationLevel() == transaction.ReadUncommitted {
		txn.SetState(transaction.Aborted)
		return false
	}
	if txn.IsolationLevel() == transaction.RepeatableRead && txn.State() == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		return false
	}
	if txn.IsSharedLocked(rid) {
		return true
	}

	rq := lm.queueFor(rid)
	for i := 0; i < len(rq.requests); {
		req := rq.requests[i]
		if req.mode != Exclusive {
			i++
			continue
		}
		switch {
		case req.txnID > txn.ID():
			lm.wound(rid, rq, i)
		case req.txnID < txn.ID():
			if lm.metrics != nil {
				lm.metrics.Waits.Inc()
			}
			rq.cv.Wait()
			goto recheck
		default:
			i++
		}
	}

	lm.grant(rid, rq, txn, Shared)
	return true
}

// LockExclusive acquires an exclusive lock on rid for txn. Unlike
// LockShared, an older conflicting holder is not waited on: this core
// chooses wound-die for exclusive contention, so txn aborts itself
// immediately instead of blocking.
func (lm *Manager) LockExclusive(txn *transaction.Transaction, rid common.RID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.State() == transaction.Aborted {
		return false
	}
	if txn.IsolationLevel() == transaction.RepeatableRead && txn.State() == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		return false
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}

	rq := lm.queueFor(rid)
	for i := 0; i < len(rq.requests); {
		req := rq.requests[i]
		switch {
		case req.txnID > txn.ID():
			lm.wound(rid, rq, i)
		case req.txnID < txn.ID():
			txn.SetState(transaction.Aborted)
			return false
		default:
			i++
		}
	}

	lm.grant(rid, rq, txn, Exclusive)
	return true
}

// LockUpgrade promotes txn's shared lock on rid to exclusive in place,
// wounding younger conflicting holders and waiting on older ones exactly
// like LockShared, since the upgrade request itself behaves like a new
// exclusive request once txn's own shared entry is set aside.
func (lm *Manager) LockUpgrade(txn *transaction.Transaction, rid common.RID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

recheck:
	if txn.State() == transaction.Aborted {
		return false
	}
	if txn.IsolationLevel() == transaction.RepeatableRead && txn.State() == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		return false
	}
	if !txn.IsSharedLocked(rid) {
		txn.SetState(transaction.Aborted)
		return false
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}

	rq := lm.queueFor(rid)
	for i := 0; i < len(rq.requests); {
		req := rq.requests[i]
		if req.txnID == txn.ID() {
			i++
			continue
		}
		switch {
		case req.txnID > txn.ID():
			lm.wound(rid, rq, i)
		default:
			if lm.metrics != nil {
				lm.metrics.Waits.Inc()
			}
			rq.cv.Wait()
			goto recheck
		}
	}

	for _, req := range rq.requests {
		if req.txnID == txn.ID() {
			req.mode = Exclusive
		}
	}
	txn.RemoveSharedLock(rid)
	txn.AddExclusiveLock(rid)
	txn.SetState(transaction.Growing)
	if lm.metrics != nil {
		lm.metrics.Grants.Inc()
	}
	return true
}

// Unlock releases txn's request on rid, if any, moving a REPEATABLE_READ
// transaction to SHRINKING on its first unlock.
func (lm *Manager) Unlock(txn *transaction.Transaction, rid common.RID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.State() == transaction.Growing && txn.IsolationLevel() == transaction.RepeatableRead {
		txn.SetState(transaction.Shrinking)
	}

	rq, ok := lm.table[rid]
	if !ok {
		return false
	}

	for i, req := range rq.requests {
		if req.txnID != txn.ID() {
			continue
		}
		removeAt(rq, i)
		if req.mode == Shared {
			txn.RemoveSharedLock(rid)
		} else {
			txn.RemoveExclusiveLock(rid)
		}
		rq.cv.Broadcast()
		return true
	}
	return false
}
