package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relicore/buffer"
	"relicore/storage/disk"
	"relicore/wal"
)

func newTestTable(t *testing.T) *Table[int32, int32] {
	t.Helper()
	path := t.TempDir() + "/hash.relicore"
	dm, err := disk.NewFileManager(path, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	pool := buffer.New(64, dm, wal.NewNoop(), nil, nil)
	keyCodec := Int32Codec()
	valCodec := Int32Codec()
	tbl, err := New[int32, int32](pool, keyCodec, valCodec, HasherFromCodec(keyCodec), nil)
	require.NoError(t, err)
	return tbl
}

func TestHashTable_InsertGetRoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	for i := int32(0); i < 20; i++ {
		assert.True(t, tbl.Insert(i, i*10))
	}

	for i := int32(0); i < 20; i++ {
		values, ok := tbl.Get(i)
		require.True(t, ok)
		assert.Contains(t, values, i*10)
	}

	tbl.VerifyIntegrity()
}

func TestHashTable_DuplicatePairRejected(t *testing.T) {
	tbl := newTestTable(t)

	assert.True(t, tbl.Insert(1, 100))
	assert.False(t, tbl.Insert(1, 100))

	values, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Equal(t, []int32{100}, values)
}

func TestHashTable_MultipleValuesPerKey(t *testing.T) {
	tbl := newTestTable(t)

	assert.True(t, tbl.Insert(7, 1))
	assert.True(t, tbl.Insert(7, 2))
	assert.True(t, tbl.Insert(7, 3))

	values, ok := tbl.Get(7)
	require.True(t, ok)
	assert.ElementsMatch(t, []int32{1, 2, 3}, values)
}

func TestHashTable_RemoveNeverInsertedFails(t *testing.T) {
	tbl := newTestTable(t)
	assert.False(t, tbl.Remove(5, 5))
}

func TestHashTable_SplitOnOverflow(t *testing.T) {
	tbl := newTestTable(t)

	const n = 600
	for i := int32(0); i < n; i++ {
		require.True(t, tbl.Insert(i, i))
	}

	for i := int32(0); i < n; i++ {
		values, ok := tbl.Get(i)
		require.True(t, ok, "key %d should still be findable after splits", i)
		assert.Contains(t, values, i)
	}

	assert.Greater(t, tbl.GlobalDepth(), uint32(0))
	tbl.VerifyIntegrity()
}

func TestHashTable_MergeAfterRemovingAll(t *testing.T) {
	tbl := newTestTable(t)

	const n = 600
	for i := int32(0); i < n; i++ {
		require.True(t, tbl.Insert(i, i))
	}
	require.Greater(t, tbl.GlobalDepth(), uint32(0))

	for i := int32(0); i < n; i++ {
		require.True(t, tbl.Remove(i, i))
	}

	assert.Equal(t, uint32(0), tbl.GlobalDepth())
	tbl.VerifyIntegrity()

	for i := int32(0); i < n; i++ {
		_, ok := tbl.Get(i)
		assert.False(t, ok)
	}
}
