package pager

import (
	"errors"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// Error taxonomy. Contract violations and budget exhaustion are fatal to
// the calling transaction; version mismatches are retryable by the caller.
var (
	// ErrOutOfMemory is returned when the slab allocator can neither reuse
	// a freed region nor reserve a new one within the configured budget.
	// Aliased from the slab package so errors.Is matches whether a caller
	// got the error directly from an Allocate or wrapped through a page
	// operation.
	ErrOutOfMemory = slab.ErrOutOfMemory

	// ErrUnknownSegment is returned when release() is called with an
	// address that does not belong to any region the allocator owns.
	ErrUnknownSegment = slab.ErrUnknownSegment

	// ErrNoSizeClass is returned when a requested size exceeds the
	// largest defined size class.
	ErrNoSizeClass = slab.ErrNoSizeClass

	// ErrPageGuarded names a close or reset attempted on a page that is
	// still guarded by a live reader or writer. No function in this
	// package returns it: Close on a guarded page logs and returns, and
	// Reset does not check the guard count.
	ErrPageGuarded = errors.New("pager: page is guarded")

	// ErrUnguardedRead names a read of page bytes without a live guard. No
	// function in this package returns it; GetSlot does not check for a
	// guard.
	ErrUnguardedRead = errors.New("pager: read without a live guard")

	// ErrVersionMismatch is returned by a PageGuard revalidation when the
	// underlying frame has been reused since the guard was acquired. The
	// caller must restart its operation.
	ErrVersionMismatch = errors.New("pager: guard version mismatch, restart required")

	// ErrEpochTrackerFull is returned when RevisionEpochTracker.Register
	// cannot find a free slot.
	ErrEpochTrackerFull = errors.New("pager: revision epoch tracker exhausted")

	// ErrRejectedEmptySlot is returned when set_slot is called with a
	// zero-length payload.
	ErrRejectedEmptySlot = errors.New("pager: slot payload must be non-empty")

	// ErrSlotOutOfRange is returned for a slot index outside [0, NDP).
	ErrSlotOutOfRange = errors.New("pager: slot index out of range")

	// ErrPageClosed is returned when an operation targets a page that has
	// already transitioned through close().
	ErrPageClosed = errors.New("pager: page is closed")

	// ErrNestedCompute names re-entry of a per-key critical section by the
	// same goroutine path. No function in this package detects such
	// re-entry or returns it.
	ErrNestedCompute = errors.New("pager: nested compute on the same cache key")
)
