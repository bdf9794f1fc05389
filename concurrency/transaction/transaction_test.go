package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relicore/common"
)

func TestManager_BeginAssignsIncreasingIDs(t *testing.T) {
	m := NewManager()
	a := m.Begin(RepeatableRead)
	b := m.Begin(RepeatableRead)
	assert.Less(t, a.ID(), b.ID())
}

func TestManager_GetFindsLiveTransaction(t *testing.T) {
	m := NewManager()
	txn := m.Begin(ReadCommitted)

	got, ok := m.Get(txn.ID())
	require.True(t, ok)
	assert.Same(t, txn, got)
}

func TestManager_CommitForgetsTransaction(t *testing.T) {
	m := NewManager()
	txn := m.Begin(ReadCommitted)
	m.Commit(txn)

	assert.Equal(t, Committed, txn.State())
	_, ok := m.Get(txn.ID())
	assert.False(t, ok)
}

func TestTransaction_LockSetBookkeeping(t *testing.T) {
	txn := newTransaction(1, RepeatableRead)
	rid := common.NewRID(3, 0)

	assert.False(t, txn.IsSharedLocked(rid))
	txn.AddSharedLock(rid)
	assert.True(t, txn.IsSharedLocked(rid))

	txn.RemoveSharedLock(rid)
	txn.AddExclusiveLock(rid)
	assert.False(t, txn.IsSharedLocked(rid))
	assert.True(t, txn.IsExclusiveLocked(rid))
}

func TestTransaction_StartsGrowing(t *testing.T) {
	txn := newTransaction(1, RepeatableRead)
	assert.Equal(t, Growing, txn.State())
}
