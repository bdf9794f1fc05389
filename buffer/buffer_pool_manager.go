package buffer

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"relicore/common"
	"relicore/metrics"
	"relicore/storage/disk"
	"relicore/storage/page"
	"relicore/wal"
)

// ErrBufferPoolFull is returned by NewPage/FetchPage when every frame is
// pinned and the free list and replacer both come up empty.
var ErrBufferPoolFull = errors.New("buffer: no frame available, pool is exhausted")

// ErrPageNotFound names the case of a page id that is not resident in the
// pool. BufferPoolManager does not return it: UnpinPage and FlushPage
// report an absent page id as false.
var ErrPageNotFound = errors.New("buffer: page not resident in pool")

// Pool is the surface every caller above the core programs against: table
// heaps, the hash index, and in tests, callers driving the pool directly.
// A striped composition (ParallelPool) satisfies it too.
type Pool interface {
	NewPage() (*page.Page, error)
	FetchPage(id page.ID) (*page.Page, error)
	UnpinPage(id page.ID, isDirty bool) bool
	FlushPage(id page.ID) bool
	FlushAllPages() error
	DeletePage(id page.ID) bool
	Size() int
}

type frame struct {
	page *page.Page
}

// BufferPoolManager owns a fixed array of frames, a page table mapping page
// id to frame index, a free list of never-used frames, and a replacement
// policy. It brokers every access to a page: callers never touch the disk
// manager directly.
//
// Latch-acquisition order: the pool's own mutex is always released before a
// caller's page latch is taken, and never re-acquired while a page latch is
// held, per the ordering rule in the package spec this core implements.
type BufferPoolManager struct {
	mu sync.Mutex

	frames    []frame
	pageTable map[page.ID]int
	freeList  []int
	replacer  Replacer

	disk disk.Manager
	log  wal.Manager

	// opLocks is held per page id around FetchPage's disk read, which runs
	// with mu released; NewPage does not take it. The page is installed in
	// the page table before that read starts, so a second FetchPage of the
	// same id finds that frame instead of reading the page into another one.
	opLocks *common.KeyMutex[page.ID]

	metrics *metrics.BufferPool
	logger  *zap.Logger
}

var _ Pool = (*BufferPoolManager)(nil)

// New builds an LRU-backed pool of the given size, backed by dm,
// write-ahead-logging through lm, and reporting into m (nil disables
// metrics). logger may be nil, in which case pool events are discarded.
func New(poolSize int, dm disk.Manager, lm wal.Manager, m *metrics.BufferPool, logger *zap.Logger) *BufferPoolManager {
	return NewWithReplacer(poolSize, NewLRUReplacer(poolSize), dm, lm, m, logger)
}

// NewWithReplacer builds a pool against an explicit Replacer, so callers can
// run the pool against the clock/second-chance variant instead of the
// default LRU one without the BPM caring which it got.
func NewWithReplacer(poolSize int, r Replacer, dm disk.Manager, lm wal.Manager, m *metrics.BufferPool, logger *zap.Logger) *BufferPoolManager {
	if lm == nil {
		lm = wal.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	freeList := make([]int, poolSize)
	for i := range freeList {
		freeList[i] = i
	}

	return &BufferPoolManager{
		frames:    make([]frame, poolSize),
		pageTable: make(map[page.ID]int, poolSize),
		freeList:  freeList,
		replacer:  r,
		disk:      dm,
		log:       lm,
		opLocks:   &common.KeyMutex[page.ID]{},
		metrics:   m,
		logger:    logger,
	}
}

func (b *BufferPoolManager) Size() int {
	return len(b.frames)
}

// acquireFrame pops a never-used frame off the free list, or else asks the
// replacer for a victim and writes it back to disk if dirty. Returns the
// frame index to (re)populate. Must be called with mu held; mu stays held
// throughout, including during the victim's write-back.
func (b *BufferPoolManager) acquireFrame() (int, error) {
	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return idx, nil
	}

	victimIdx, ok := b.replacer.Victim()
	if !ok {
		b.logger.Warn("buffer pool exhausted", zap.Int("pool_size", len(b.frames)))
		return 0, ErrBufferPoolFull
	}
	if b.metrics != nil {
		b.metrics.Evictions.Inc()
	}

	victim := &b.frames[victimIdx]
	victimID := victim.page.ID()
	delete(b.pageTable, victimID)

	if victim.page.IsDirty() {
		if err := b.writeThrough(victim.page); err != nil {
			// Roll back: the page is still the one resident in this frame.
			b.pageTable[victimID] = victimIdx
			b.replacer.Unpin(victimIdx)
			return 0, fmt.Errorf("buffer: evicting page %d: %w", victimID, err)
		}
	}

	b.logger.Debug("evicted frame", zap.Int32("page_id", victimID), zap.Int("frame", victimIdx))
	return victimIdx, nil
}

// writeThrough forces the log up to the page's LSN durable, then writes the
// page via the disk manager and marks it clean. Caller holds mu.
func (b *BufferPoolManager) writeThrough(p *page.Page) error {
	if p.LSN() > b.log.FlushedLSN() {
		if err := b.log.Flush(); err != nil {
			return err
		}
	}
	if err := b.disk.WritePage(p.ID(), p.Data()); err != nil {
		return err
	}
	p.SetClean()
	return nil
}

func (b *BufferPoolManager) NewPage() (*page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	id := b.disk.AllocatePage()

	p := b.frames[idx].page
	if p == nil {
		p = page.New(id)
		b.frames[idx].page = p
	} else {
		p.Reset(id)
	}

	b.pageTable[id] = idx
	p.IncrPinCount()
	b.replacer.Pin(idx)
	if b.metrics != nil {
		b.metrics.PinnedGauge.Inc()
	}

	lsn := b.log.Append(id)
	p.SetLSN(lsn)

	return p, nil
}

func (b *BufferPoolManager) FetchPage(id page.ID) (*page.Page, error) {
	b.mu.Lock()

	if idx, ok := b.pageTable[id]; ok {
		p := b.frames[idx].page
		wasUnpinned := p.PinCount() == 0
		p.IncrPinCount()
		b.replacer.Pin(idx)
		if b.metrics != nil {
			b.metrics.Hits.Inc()
			if wasUnpinned {
				b.metrics.PinnedGauge.Inc()
			}
		}
		b.mu.Unlock()
		return p, nil
	}

	if b.metrics != nil {
		b.metrics.Misses.Inc()
	}

	idx, err := b.acquireFrame()
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	p := b.frames[idx].page
	if p == nil {
		p = page.New(id)
		b.frames[idx].page = p
	} else {
		p.Reset(id)
	}

	b.pageTable[id] = idx
	p.IncrPinCount()
	b.replacer.Pin(idx)
	if b.metrics != nil {
		b.metrics.PinnedGauge.Inc()
	}

	release := b.opLocks.Lock(id)
	b.mu.Unlock()

	err = b.disk.ReadPage(id, p.Data())
	release()

	if err != nil {
		b.mu.Lock()
		delete(b.pageTable, id)
		p.DecrPinCount()
		b.freeList = append(b.freeList, idx)
		if b.metrics != nil {
			b.metrics.PinnedGauge.Dec()
		}
		b.mu.Unlock()
		return nil, fmt.Errorf("buffer: fetch page %d: %w", id, err)
	}

	return p, nil
}

func (b *BufferPoolManager) UnpinPage(id page.ID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.pageTable[id]
	if !ok {
		return false
	}

	p := b.frames[idx].page
	if p.PinCount() <= 0 {
		return false
	}

	if isDirty {
		p.SetDirty()
	}

	p.DecrPinCount()
	if p.PinCount() == 0 {
		b.replacer.Unpin(idx)
		if b.metrics != nil {
			b.metrics.PinnedGauge.Dec()
		}
	}
	return true
}

func (b *BufferPoolManager) FlushPage(id page.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.pageTable[id]
	if !ok {
		return false
	}

	p := b.frames[idx].page
	if p.IsDirty() {
		if err := b.writeThrough(p); err != nil {
			return false
		}
	}
	return true
}

// FlushAllPages writes every resident page that is dirty. It holds mu for
// the whole pass, so the page table cannot change underneath it, and stops
// at the first write error.
func (b *BufferPoolManager) FlushAllPages() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, idx := range b.pageTable {
		p := b.frames[idx].page
		if p.IsDirty() {
			if err := b.writeThrough(p); err != nil {
				return fmt.Errorf("buffer: flush all, page %d: %w", id, err)
			}
		}
	}
	return nil
}

func (b *BufferPoolManager) DeletePage(id page.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.pageTable[id]
	if !ok {
		return true
	}

	p := b.frames[idx].page
	if p.PinCount() > 0 {
		return false
	}

	if p.IsDirty() {
		if err := b.writeThrough(p); err != nil {
			return false
		}
	}

	b.disk.DeallocatePage(id)
	delete(b.pageTable, id)
	b.replacer.Pin(idx) // make sure it isn't sitting in the replacer's candidate set
	p.Reset(page.InvalidID)
	b.freeList = append(b.freeList, idx)
	return true
}
