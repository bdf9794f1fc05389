// Package page defines the fixed-size physical page that flows through the
// buffer pool. A page's identity (PageID) is stable across evictions; its
// frame location inside the pool is not.
package page

import (
	"sync"
)

// Size is the on-disk and in-memory size of every page, agreed on by the
// core and the disk manager.
const Size = 4096

// InvalidID is the sentinel page id meaning "unassigned".
const InvalidID int32 = -1

// ID is a page identifier. It is signed so InvalidID can be represented
// without colliding with a real id.
type ID = int32

// Page is a frame's resident content plus the metadata the buffer pool and
// its callers need to manage it: pin count, dirty flag, and a latch that is
// independent of the buffer pool's own mutex.
type Page struct {
	id       ID
	pinCount int
	dirty    bool
	lsn      LSN
	latch    sync.RWMutex
	data     [Size]byte
}

// LSN is the log sequence number the buffer pool stamps on a page when
// NewPage creates it; a page read back from disk starts at ZeroLSN and
// unpinning a page dirty does not restamp it. The buffer pool compares it against the log manager's flushed
// LSN before writing the page back, so the WAL entry always precedes the
// data it describes.
type LSN int64

// ZeroLSN marks a page that has never been logged.
const ZeroLSN LSN = 0

// New returns a zeroed page with the given id, unpinned and clean.
func New(id ID) *Page {
	return &Page{id: id}
}

func (p *Page) ID() ID {
	return p.id
}

// SetID reassigns the page's identity when a frame is recycled for a
// different page id by the buffer pool.
func (p *Page) SetID(id ID) {
	p.id = id
}

// Data returns the page's raw byte buffer. Callers must hold the page's
// latch (WLatch for mutation, RLatch for read) before touching it.
func (p *Page) Data() []byte {
	return p.data[:]
}

func (p *Page) PinCount() int {
	return p.pinCount
}

func (p *Page) IncrPinCount() {
	p.pinCount++
}

func (p *Page) DecrPinCount() {
	p.pinCount--
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

func (p *Page) SetDirty() {
	p.dirty = true
}

func (p *Page) SetClean() {
	p.dirty = false
}

func (p *Page) LSN() LSN {
	return p.lsn
}

func (p *Page) SetLSN(lsn LSN) {
	p.lsn = lsn
}

// Reset clears a frame's content before it is reused for a different page
// id, the way a freshly allocated page is expected to read as all zeros.
func (p *Page) Reset(id ID) {
	p.id = id
	p.pinCount = 0
	p.dirty = false
	p.lsn = ZeroLSN
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) WLatch()   { p.latch.Lock() }
func (p *Page) WUnlatch() { p.latch.Unlock() }
func (p *Page) RLatch()   { p.latch.RLock() }
func (p *Page) RUnlatch() { p.latch.RUnlock() }

// TryRLatch attempts to take the read latch without blocking and reports
// whether it succeeded.
func (p *Page) TryRLatch() bool { return p.latch.TryRLock() }
