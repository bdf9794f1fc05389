// Package hash implements the extendible hash index: a single directory
// page plus many bucket pages, all fetched through a buffer.Pool. It is a
// generic key/value multi-map — Get, Insert, and Remove can all see more
// than one value per key — with bucket split on overflow and bucket merge
// on emptiness, synchronized by a table-wide reader/writer latch layered on
// top of the per-page latches the buffer pool already hands out.
package hash

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"relicore/buffer"
	"relicore/storage/page"
)

// HashFunc turns a key into a 64-bit hash. The table only ever uses the low
// 32 bits of it, matching the original design's "downcast MurmurHash to
// uint32_t" helper.
type HashFunc[K any] func(K) uint64

// HasherFromCodec builds a HashFunc by encoding a key through codec and
// hashing the resulting bytes with xxHash. This is the usual case: callers
// that already have a Codec for their key type get a reasonable hasher for
// free instead of writing one by hand.
func HasherFromCodec[K comparable](codec Codec[K]) HashFunc[K] {
	buf := make([]byte, codec.Size)
	var mu sync.Mutex
	return func(k K) uint64 {
		mu.Lock()
		defer mu.Unlock()
		codec.Encode(k, buf)
		return xxhash.Sum64(buf)
	}
}

// Table is the extendible hash index. K and V must be comparable so
// duplicate-pair detection and equality scans can use plain ==; on-page
// encoding is delegated to the supplied Codecs.
type Table[K comparable, V comparable] struct {
	pool     buffer.Pool
	keyCodec Codec[K]
	valCodec Codec[V]
	hash     HashFunc[K]

	bucketCapacity int

	// tableLatch distinguishes read-like operations (Get, non-splitting
	// Insert, non-merging Remove) from structural operations (split,
	// merge). It is always acquired before any page latch, and the pool's
	// own mutex is never held across it.
	tableLatch sync.RWMutex

	dirPageID page.ID
	logger    *zap.Logger
}

// New creates a fresh, empty hash table: one directory page at global depth
// 0 pointing at a single empty bucket page. logger may be nil to discard
// split/merge log output.
func New[K comparable, V comparable](pool buffer.Pool, keyCodec Codec[K], valCodec Codec[V], hash HashFunc[K], logger *zap.Logger) (*Table[K, V], error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dirPage, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	dir := newDirectoryView(dirPage)
	dir.SetGlobalDepth(0)

	bucketPage, err := pool.NewPage()
	if err != nil {
		pool.DeletePage(dirPage.ID())
		return nil, err
	}
	dir.SetBucketPageID(0, bucketPage.ID())
	dir.SetLocalDepth(0, 0)

	pool.UnpinPage(bucketPage.ID(), true)
	pool.UnpinPage(dirPage.ID(), true)

	capacity := computeBucketCapacity(page.Size, keyCodec.Size+valCodec.Size)

	return &Table[K, V]{
		pool:           pool,
		keyCodec:       keyCodec,
		valCodec:       valCodec,
		hash:           hash,
		bucketCapacity: capacity,
		dirPageID:      dirPage.ID(),
		logger:         logger,
	}, nil
}

func (t *Table[K, V]) hash32(key K) uint32 {
	return uint32(t.hash(key))
}

func (t *Table[K, V]) bucketView(p *page.Page) *bucketPage[K, V] {
	return newBucketView(p.Data(), t.bucketCapacity, t.keyCodec, t.valCodec)
}

func (t *Table[K, V]) fetchDirectory() (*page.Page, *directoryPage, error) {
	p, err := t.pool.FetchPage(t.dirPageID)
	if err != nil {
		return nil, nil, err
	}
	return p, newDirectoryView(p), nil
}

// Get returns every value stored for key and whether any were found.
func (t *Table[K, V]) Get(key K) ([]V, bool) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		return nil, false
	}
	dirIndex := t.hash32(key) & dir.GlobalDepthMask()
	bucketID := dir.BucketPageID(dirIndex)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.dirPageID, false)
		return nil, false
	}

	bucketPg.RLatch()
	values := t.bucketView(bucketPg).GetValue(key)
	bucketPg.RUnlatch()

	t.pool.UnpinPage(bucketID, false)
	t.pool.UnpinPage(t.dirPageID, false)

	return values, len(values) > 0
}

// Insert adds (key, value), splitting the owning bucket if it is full.
// Returns false for an exact (key, value) duplicate or when the structural
// cap (MaxGlobalDepth) is reached during a forced split.
func (t *Table[K, V]) Insert(key K, value V) bool {
	t.tableLatch.RLock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		t.tableLatch.RUnlock()
		return false
	}
	dirIndex := t.hash32(key) & dir.GlobalDepthMask()
	bucketID := dir.BucketPageID(dirIndex)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.dirPageID, false)
		t.tableLatch.RUnlock()
		return false
	}

	bucketPg.WLatch()
	bucket := t.bucketView(bucketPg)

	if !bucket.IsFull() {
		ok := bucket.Insert(key, value)
		bucketPg.WUnlatch()
		t.pool.UnpinPage(bucketID, ok)
		t.pool.UnpinPage(t.dirPageID, false)
		t.tableLatch.RUnlock()
		return ok
	}

	bucketPg.WUnlatch()
	t.pool.UnpinPage(bucketID, false)
	t.pool.UnpinPage(t.dirPageID, false)
	t.tableLatch.RUnlock()

	return t.splitInsert(key, value)
}

// splitInsert splits the bucket key hashes to and then retries the insert,
// after the split has released the table write latch.
func (t *Table[K, V]) splitInsert(key K, value V) bool {
	if !t.split(key) {
		return false
	}
	return t.Insert(key, value)
}

// split grows the directory (if needed), splits the overflowing
// bucket into itself and a new "image" bucket, rehashes the old bucket's
// contents between the two, and rewrites every directory entry that used to
// point at the old bucket so the split is atomic from callers' perspective.
// Returns false if the split could not be made.
func (t *Table[K, V]) split(key K) bool {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		return false
	}
	defer t.pool.UnpinPage(t.dirPageID, true)

	bucketIdx := t.hash32(key) & dir.GlobalDepthMask()
	localDepth := dir.LocalDepth(bucketIdx)

	if localDepth >= MaxGlobalDepth {
		return false
	}

	if uint32(localDepth) == dir.GlobalDepth() {
		oldSize := dir.Size()
		dir.IncrGlobalDepth()
		newSize := dir.Size()
		for i := oldSize; i < newSize; i++ {
			mirror := i - oldSize
			dir.SetBucketPageID(i, dir.BucketPageID(mirror))
			dir.SetLocalDepth(i, dir.LocalDepth(mirror))
		}
		// The key's directory index may have gained a high bit; recompute.
		bucketIdx = t.hash32(key) & dir.GlobalDepthMask()
		localDepth = dir.LocalDepth(bucketIdx)
	}

	dir.IncrLocalDepth(bucketIdx)
	newLocalDepth := dir.LocalDepth(bucketIdx)
	bucketID := dir.BucketPageID(bucketIdx)

	oldPage, err := t.pool.FetchPage(bucketID)
	if err != nil {
		return false
	}
	oldPage.WLatch()
	oldBucket := t.bucketView(oldPage)
	oldPairs := oldBucket.AllReadable()
	oldBucket.Init()

	imagePage, err := t.pool.NewPage()
	if err != nil {
		oldPage.WUnlatch()
		t.pool.UnpinPage(bucketID, true)
		return false
	}
	imagePage.WLatch()
	imageBucket := t.bucketView(imagePage)
	imageBucket.Init()
	imageID := imagePage.ID()

	splitImageIdx := dir.SplitImageIndex(bucketIdx)
	dir.SetLocalDepth(splitImageIdx, newLocalDepth)
	dir.SetBucketPageID(splitImageIdx, imageID)

	for _, pr := range oldPairs {
		destIdx := t.hash32(pr.key) & dir.LocalDepthMask(bucketIdx)
		destID := dir.BucketPageID(destIdx)
		if destID == bucketID {
			oldBucket.Insert(pr.key, pr.value)
		} else {
			imageBucket.Insert(pr.key, pr.value)
		}
	}

	step := uint32(1) << newLocalDepth
	bucketResidue := bucketIdx % step
	imageResidue := splitImageIdx % step
	for i := uint32(0); i < dir.Size(); i++ {
		switch i % step {
		case bucketResidue:
			dir.SetBucketPageID(i, bucketID)
			dir.SetLocalDepth(i, newLocalDepth)
		case imageResidue:
			dir.SetBucketPageID(i, imageID)
			dir.SetLocalDepth(i, newLocalDepth)
		}
	}

	oldPage.WUnlatch()
	imagePage.WUnlatch()
	t.pool.UnpinPage(bucketID, true)
	t.pool.UnpinPage(imageID, true)

	t.logger.Debug("split bucket",
		zap.Int32("bucket_page_id", bucketID),
		zap.Int32("image_page_id", imageID),
		zap.Uint8("new_local_depth", newLocalDepth),
	)

	return true
}

// Remove deletes the exact (key, value) pair, dropping to a merge if the
// owning bucket becomes empty.
func (t *Table[K, V]) Remove(key K, value V) bool {
	t.tableLatch.RLock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		t.tableLatch.RUnlock()
		return false
	}
	dirIndex := t.hash32(key) & dir.GlobalDepthMask()
	bucketID := dir.BucketPageID(dirIndex)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.dirPageID, false)
		t.tableLatch.RUnlock()
		return false
	}

	bucketPg.WLatch()
	bucket := t.bucketView(bucketPg)
	ok := bucket.Remove(key, value)
	empty := bucket.IsEmpty()
	bucketPg.WUnlatch()

	t.pool.UnpinPage(bucketID, ok)
	t.pool.UnpinPage(t.dirPageID, false)
	t.tableLatch.RUnlock()

	if empty {
		t.merge(key)
	}
	return ok
}

// merge drops an emptied bucket and folds its directory entries into its
// split image, then repeatedly shrinks the global depth while possible.
func (t *Table[K, V]) merge(key K) {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		return
	}

	bucketIdx := t.hash32(key) & dir.GlobalDepthMask()
	localDepth := dir.LocalDepth(bucketIdx)
	if localDepth == 0 {
		t.pool.UnpinPage(t.dirPageID, false)
		return
	}

	imageIdx := dir.SplitImageIndex(bucketIdx)
	if dir.LocalDepth(imageIdx) != localDepth {
		t.pool.UnpinPage(t.dirPageID, false)
		return
	}

	bucketID := dir.BucketPageID(bucketIdx)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.dirPageID, false)
		return
	}
	bucketPg.RLatch()
	stillEmpty := t.bucketView(bucketPg).IsEmpty()
	bucketPg.RUnlatch()
	t.pool.UnpinPage(bucketID, false)

	if !stillEmpty {
		t.pool.UnpinPage(t.dirPageID, false)
		return
	}

	t.pool.DeletePage(bucketID)

	imageID := dir.BucketPageID(imageIdx)
	for i := uint32(0); i < dir.Size(); i++ {
		if dir.BucketPageID(i) == bucketID || dir.BucketPageID(i) == imageID {
			dir.SetBucketPageID(i, imageID)
			dir.SetLocalDepth(i, localDepth-1)
		}
	}

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
	}

	t.pool.UnpinPage(t.dirPageID, true)
	t.logger.Debug("merged bucket", zap.Int32("bucket_page_id", bucketID), zap.Int32("image_page_id", imageID))
}

// GlobalDepth returns the directory's current global depth.
func (t *Table[K, V]) GlobalDepth() uint32 {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		return 0
	}
	defer t.pool.UnpinPage(t.dirPageID, false)
	return dir.GlobalDepth()
}

// VerifyIntegrity panics on the first directory invariant violation found.
// It exists for tests to assert against, not for production control flow.
func (t *Table[K, V]) VerifyIntegrity() {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	_, dir, err := t.fetchDirectory()
	if err != nil {
		return
	}
	defer t.pool.UnpinPage(t.dirPageID, false)
	dir.VerifyIntegrity()
}
