package hash

import (
	"encoding/binary"

	"relicore/storage/page"
)

// MaxGlobalDepth bounds how many bits of the hash the directory can ever
// use. At depth 9 the directory already holds 512 entries; pushing it
// further would outgrow a single page's entry array.
const MaxGlobalDepth = 9

// maxDirectorySize is the entry array's fixed capacity: 2^MaxGlobalDepth.
// The directory page always reserves room for the deepest directory it
// could ever grow into, and only the first 2^globalDepth entries are live.
const maxDirectorySize = 1 << MaxGlobalDepth

const (
	dirGlobalDepthOffset = 0
	dirEntriesOffset     = 4
	dirEntrySize         = 5 // 4 bytes bucket page id + 1 byte local depth
)

// directoryPage is a thin view over a page.Page's byte buffer. It holds the
// global depth and a dense array of (bucket page id, local depth) entries.
//
// Layout:
//
//	| global depth (4) | entry_0 (5) | entry_1 (5) | ... | entry_511 (5) |
//
// Invariants the hash table maintains through this view:
//   - for every live entry i, localDepth[i] <= globalDepth
//   - if i ≡ j (mod 2^localDepth[i]) and localDepth[i] == localDepth[j],
//     then bucketPageID[i] == bucketPageID[j]
//   - the directory can shrink iff every live entry's local depth is
//     strictly less than globalDepth
type directoryPage struct {
	raw []byte
}

func newDirectoryView(p *page.Page) *directoryPage {
	return &directoryPage{raw: p.Data()}
}

func (d *directoryPage) GlobalDepth() uint32 {
	return binary.LittleEndian.Uint32(d.raw[dirGlobalDepthOffset:])
}

func (d *directoryPage) SetGlobalDepth(depth uint32) {
	binary.LittleEndian.PutUint32(d.raw[dirGlobalDepthOffset:], depth)
}

func (d *directoryPage) IncrGlobalDepth() {
	d.SetGlobalDepth(d.GlobalDepth() + 1)
}

func (d *directoryPage) DecrGlobalDepth() {
	d.SetGlobalDepth(d.GlobalDepth() - 1)
}

// Size returns the number of live entries: 2^globalDepth.
func (d *directoryPage) Size() uint32 {
	return 1 << d.GlobalDepth()
}

func (d *directoryPage) GlobalDepthMask() uint32 {
	return d.Size() - 1
}

func (d *directoryPage) entryOffset(i uint32) int {
	return dirEntriesOffset + int(i)*dirEntrySize
}

func (d *directoryPage) BucketPageID(i uint32) page.ID {
	off := d.entryOffset(i)
	return int32(binary.LittleEndian.Uint32(d.raw[off:]))
}

func (d *directoryPage) SetBucketPageID(i uint32, id page.ID) {
	off := d.entryOffset(i)
	binary.LittleEndian.PutUint32(d.raw[off:], uint32(id))
}

func (d *directoryPage) LocalDepth(i uint32) uint8 {
	return d.raw[d.entryOffset(i)+4]
}

func (d *directoryPage) SetLocalDepth(i uint32, depth uint8) {
	d.raw[d.entryOffset(i)+4] = depth
}

func (d *directoryPage) IncrLocalDepth(i uint32) {
	d.SetLocalDepth(i, d.LocalDepth(i)+1)
}

func (d *directoryPage) DecrLocalDepth(i uint32) {
	d.SetLocalDepth(i, d.LocalDepth(i)-1)
}

func (d *directoryPage) LocalDepthMask(i uint32) uint32 {
	return (uint32(1) << d.LocalDepth(i)) - 1
}

// SplitImageIndex returns the sibling directory entry that shares bucket
// i's lower-order bits but differs in the top bit of its local depth.
func (d *directoryPage) SplitImageIndex(i uint32) uint32 {
	localDepth := d.LocalDepth(i)
	if localDepth == 0 {
		return i
	}
	return i ^ (1 << (localDepth - 1))
}

// CanShrink reports whether every live entry's local depth is strictly
// less than the global depth, the precondition for DecrGlobalDepth.
func (d *directoryPage) CanShrink() bool {
	gd := d.GlobalDepth()
	if gd == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if uint32(d.LocalDepth(i)) >= gd {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory invariants listed on directoryPage,
// panicking on the first violation found. It is meant for tests, not
// for production control flow.
func (d *directoryPage) VerifyIntegrity() {
	gd := d.GlobalDepth()
	size := d.Size()

	seen := make(map[page.ID]uint8, size)
	for i := uint32(0); i < size; i++ {
		ld := d.LocalDepth(i)
		if ld > uint8(gd) {
			panic("hash: local depth exceeds global depth")
		}

		bucketID := d.BucketPageID(i)
		if prevLD, ok := seen[bucketID]; ok && prevLD != ld {
			panic("hash: same bucket page referenced with inconsistent local depths")
		}
		seen[bucketID] = ld

		step := uint32(1) << ld
		for j := i % step; j < size; j += step {
			if d.BucketPageID(j) != bucketID {
				panic("hash: entries sharing a local mask do not share a bucket page")
			}
		}
	}
}
