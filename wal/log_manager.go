// Package wal defines the log manager hook the buffer pool calls before
// writing a dirty page back to disk. The core treats logging and recovery
// as someone else's subsystem: it only needs a place to stamp an LSN and a
// way to ask "has everything up to this LSN reached stable storage yet".
package wal

import (
	"sync/atomic"

	"relicore/storage/page"
)

// Manager is the interface the buffer pool consumes.
type Manager interface {
	// Append records that a page is about to be dirtied and returns the LSN
	// to stamp on it. Real implementations would serialize a log record;
	// the core does not care how.
	Append(pageID page.ID) page.LSN

	// FlushedLSN returns the highest LSN known to be durable. The buffer
	// pool compares a victim page's LSN against this before eviction and
	// forces a flush if the page's log record hasn't caught up yet.
	FlushedLSN() page.LSN

	// Flush forces all buffered log records up to the current LSN to
	// stable storage.
	Flush() error
}

// Noop is a Manager that stamps monotonically increasing LSNs but never
// actually persists anything. It is what the core runs against whenever
// the caller hasn't wired in a real recovery subsystem, and it is enough
// to exercise the buffer pool's LSN bookkeeping in isolation.
type Noop struct {
	counter int64
}

var _ Manager = (*Noop)(nil)

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Append(page.ID) page.LSN {
	return page.LSN(atomic.AddInt64(&n.counter, 1))
}

func (n *Noop) FlushedLSN() page.LSN {
	return page.LSN(atomic.LoadInt64(&n.counter))
}

func (n *Noop) Flush() error {
	return nil
}
