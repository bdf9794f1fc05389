package buffer

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relicore/metrics"
	"relicore/storage/disk"
	"relicore/storage/page"
	"relicore/wal"
)

func newTestPool(t *testing.T, poolSize int) (*BufferPoolManager, string) {
	t.Helper()
	path := t.TempDir() + "/pool.relicore"
	dm, err := disk.NewFileManager(path, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return New(poolSize, dm, wal.NewNoop(), nil, nil), path
}

func TestBufferPoolManager_PoolExhaustion(t *testing.T) {
	b, _ := newTestPool(t, 2)

	p1, err := b.NewPage()
	require.NoError(t, err)
	p2, err := b.NewPage()
	require.NoError(t, err)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	_, err = b.NewPage()
	assert.ErrorIs(t, err, ErrBufferPoolFull)

	assert.True(t, b.UnpinPage(p1.ID(), false))
	p3, err := b.NewPage()
	require.NoError(t, err)
	assert.NotNil(t, p3)
}

func TestBufferPoolManager_WriteReadRoundTrip(t *testing.T) {
	b, _ := newTestPool(t, 2)

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.ID()

	copy(p.Data(), []byte("hello, buffer pool"))
	require.True(t, b.UnpinPage(id, true))

	// Force eviction of the written page by filling the rest of the pool
	// and fetching something new.
	for i := 0; i < 4; i++ {
		np, err := b.NewPage()
		require.NoError(t, err)
		require.True(t, b.UnpinPage(np.ID(), false))
	}

	fetched, err := b.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, "hello, buffer pool", string(fetched.Data()[:len("hello, buffer pool")]))
	b.UnpinPage(id, false)
}

func TestBufferPoolManager_UnpinUnknownPageFails(t *testing.T) {
	b, _ := newTestPool(t, 2)
	assert.False(t, b.UnpinPage(page.ID(999), false))
}

func TestBufferPoolManager_UnpinZeroPinCountFails(t *testing.T) {
	b, _ := newTestPool(t, 2)
	p, err := b.NewPage()
	require.NoError(t, err)

	require.True(t, b.UnpinPage(p.ID(), false))
	assert.False(t, b.UnpinPage(p.ID(), false), "pin count is already 0")
}

func TestBufferPoolManager_DeletePinnedPageFails(t *testing.T) {
	b, _ := newTestPool(t, 2)
	p, err := b.NewPage()
	require.NoError(t, err)

	assert.False(t, b.DeletePage(p.ID()))
	b.UnpinPage(p.ID(), false)
	assert.True(t, b.DeletePage(p.ID()))
}

func TestBufferPoolManager_DeleteAbsentPageSucceeds(t *testing.T) {
	b, _ := newTestPool(t, 2)
	assert.True(t, b.DeletePage(page.ID(12345)))
}

func TestBufferPoolManager_RunsAgainstClockReplacer(t *testing.T) {
	path := t.TempDir() + "/pool.relicore"
	dm, err := disk.NewFileManager(path, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	b := NewWithReplacer(2, NewClockReplacer(2), dm, wal.NewNoop(), nil, nil)

	p1, err := b.NewPage()
	require.NoError(t, err)
	p2, err := b.NewPage()
	require.NoError(t, err)

	_, err = b.NewPage()
	assert.ErrorIs(t, err, ErrBufferPoolFull)

	require.True(t, b.UnpinPage(p1.ID(), false))
	require.True(t, b.UnpinPage(p2.ID(), false))

	p3, err := b.NewPage()
	require.NoError(t, err)
	assert.NotNil(t, p3)
}

func TestBufferPoolManager_PinnedGaugeTracksResidentPins(t *testing.T) {
	path := t.TempDir() + "/pool.relicore"
	dm, err := disk.NewFileManager(path, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewBufferPool(reg, "gauge-test")
	b := New(4, dm, wal.NewNoop(), m, nil)

	p1, err := b.NewPage()
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PinnedGauge))

	p2, err := b.NewPage()
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PinnedGauge))

	require.True(t, b.UnpinPage(p1.ID(), false))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PinnedGauge))

	// p2 is already pinned; re-fetching it adds a second pin on the same
	// frame, not a second pinned frame, so the gauge does not move.
	fetched, err := b.FetchPage(p2.ID())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PinnedGauge))

	require.True(t, b.UnpinPage(fetched.ID(), false))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PinnedGauge), "one of p2's two pins remains")
	require.True(t, b.UnpinPage(p2.ID(), false))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PinnedGauge))
}

func TestBufferPoolManager_FlushAllPages(t *testing.T) {
	b, path := newTestPool(t, 4)

	ids := make([]page.ID, 0, 4)
	for i := 0; i < 4; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		copy(p.Data(), []byte{byte(i)})
		ids = append(ids, p.ID())
		require.True(t, b.UnpinPage(p.ID(), true))
	}

	require.NoError(t, b.FlushAllPages())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for i, id := range ids {
		off := int64(id) * int64(page.Size)
		assert.Equal(t, byte(i), raw[off])
	}
}
