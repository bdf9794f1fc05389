package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relicore/storage/disk"
	"relicore/storage/page"
	"relicore/wal"
)

// newTestParallelPool builds a striped pool of n instances, each with its
// own frame array of the given size but sharing one backing file: page ids
// never collide across instances, since every instance only ever produces
// ids congruent to its own index mod n.
func newTestParallelPool(t *testing.T, n, poolSizePerInstance int) *ParallelPool {
	t.Helper()
	path := t.TempDir() + "/parallel.relicore"

	instances := make([]*BufferPoolManager, n)
	for i := 0; i < n; i++ {
		dm, err := disk.NewFileManager(path, n, i)
		require.NoError(t, err)
		instances[i] = New(poolSizePerInstance, dm, wal.NewNoop(), nil, nil)
	}
	return NewParallelPool(instances)
}

func TestParallelPool_SizeIsSumOfInstances(t *testing.T) {
	p := newTestParallelPool(t, 3, 2)
	assert.Equal(t, 6, p.Size())
}

func TestParallelPool_NewPageRoundRobinsAcrossInstances(t *testing.T) {
	p := newTestParallelPool(t, 3, 4)

	residues := make([]int32, 6)
	for i := range residues {
		pg, err := p.NewPage()
		require.NoError(t, err)
		residues[i] = pg.ID() % 3
	}

	// Every residue class mod n must appear, in round-robin order, because
	// each instance only ever allocates ids congruent to its own index.
	assert.Equal(t, []int32{0, 1, 2, 0, 1, 2}, residues)
}

func TestParallelPool_FetchPageRoutesByResidue(t *testing.T) {
	p := newTestParallelPool(t, 2, 4)

	pg, err := p.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	require.True(t, p.UnpinPage(id, true))

	fetched, err := p.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, id, fetched.ID())

	owner := p.route(id)
	_, resident := owner.pageTable[id]
	assert.True(t, resident, "page must be resident in the instance its id routes to")

	assert.True(t, p.UnpinPage(id, false))
}

func TestParallelPool_DeletePageRoutesToOwningInstance(t *testing.T) {
	p := newTestParallelPool(t, 2, 4)

	pg, err := p.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	require.True(t, p.UnpinPage(id, false))

	assert.True(t, p.DeletePage(id))

	owner := p.route(id)
	_, resident := owner.pageTable[id]
	assert.False(t, resident)
}

func TestParallelPool_FlushAllPagesCoversEveryInstance(t *testing.T) {
	p := newTestParallelPool(t, 2, 4)

	ids := make([]page.ID, 0, 4)
	for i := 0; i < 4; i++ {
		pg, err := p.NewPage()
		require.NoError(t, err)
		copy(pg.Data(), []byte("x"))
		require.True(t, p.UnpinPage(pg.ID(), true))
		ids = append(ids, pg.ID())
	}

	require.NoError(t, p.FlushAllPages())

	for _, id := range ids {
		owner := p.route(id)
		idx := owner.pageTable[id]
		assert.False(t, owner.frames[idx].page.IsDirty())
	}
}
