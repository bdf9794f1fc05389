// Package disk is the raw block I/O layer the buffer pool reads and writes
// pages through. It is an external collaborator of the storage core: it
// knows nothing about pins, latches, or the hash index, only about page ids
// and fixed-size blocks of bytes.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"relicore/storage/page"
)

// Manager is the interface the buffer pool consumes. A real implementation
// talks to a file; tests can swap in an in-memory fake.
type Manager interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	AllocatePage() page.ID
	DeallocatePage(id page.ID)
	Close() error
}

// FileManager is a Manager backed by a single OS file, striped across
// num_instances buffer pools by residue class (see NewFileManager).
type FileManager struct {
	file *os.File
	mu   sync.Mutex

	numInstances  int32
	instanceIndex int32
	nextOrdinal   int64 // protected by atomic ops; counts allocations of this instance only
}

var _ Manager = (*FileManager)(nil)

// NewFileManager opens (creating if necessary) the backing file for one
// residue class of a possibly striped buffer pool. numInstances=1,
// instanceIndex=0 is the common, unstriped case.
func NewFileManager(path string, numInstances, instanceIndex int) (*FileManager, error) {
	if numInstances <= 0 {
		numInstances = 1
	}
	if instanceIndex < 0 || instanceIndex >= numInstances {
		return nil, fmt.Errorf("disk: instance index %d out of range [0,%d)", instanceIndex, numInstances)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	return &FileManager{
		file:          f,
		numInstances:  int32(numInstances),
		instanceIndex: int32(instanceIndex),
	}, nil
}

func (d *FileManager) offset(id page.ID) int64 {
	return int64(id) * int64(page.Size)
}

func (d *FileManager) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("disk: read buffer must be %d bytes, got %d", page.Size, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.ReadAt(buf, d.offset(id))
	if err == io.EOF && n == 0 {
		// Page was allocated but never written; callers expect a zeroed page.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	return nil
}

func (d *FileManager) WritePage(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("disk: write buffer must be %d bytes, got %d", page.Size, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.WriteAt(buf, d.offset(id))
	if err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	if n != page.Size {
		return fmt.Errorf("disk: short write for page %d: wrote %d of %d bytes", id, n, page.Size)
	}
	return nil
}

// AllocatePage returns the next page id owned by this instance. Ids follow
// the arithmetic progression instanceIndex, instanceIndex+numInstances, ...
// so a page id's residue mod numInstances identifies its owning instance.
func (d *FileManager) AllocatePage() page.ID {
	ordinal := atomic.AddInt64(&d.nextOrdinal, 1) - 1
	return page.ID(ordinal*int64(d.numInstances) + int64(d.instanceIndex))
}

// DeallocatePage is a no-op for the file-backed manager: the page's slot in
// the file is neither reclaimed nor handed out again by AllocatePage. The
// core does not depend on disk space being reclaimed.
func (d *FileManager) DeallocatePage(id page.ID) {}

func (d *FileManager) Close() error {
	return d.file.Close()
}
