// Package buffer implements the storage core's page cache: a replacement
// policy, a buffer pool manager built on top of it, and an optional
// striped composition of several pools.
package buffer

// Replacer tracks which frames are candidates for eviction. It knows
// nothing about pages or disk I/O, only about frame indices.
//
// Implementations are internally synchronized; the buffer pool manager
// still serializes its own state under a separate mutex before calling
// into a Replacer, per the latch-acquisition order documented on
// BufferPoolManager.
type Replacer interface {
	// Victim selects and removes the least-favorable frame for eviction.
	// Returns false if no frame is currently evictable.
	Victim() (frameID int, ok bool)

	// Pin removes a frame from the candidate set. A no-op if the frame is
	// not currently a candidate.
	Pin(frameID int)

	// Unpin adds a frame to the candidate set. A no-op if the frame is
	// already a candidate: this is set semantics, not a refresh.
	Unpin(frameID int)

	// Size returns the number of frames currently evictable.
	Size() int
}
